package costing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MaterialIssuer records the outbound stock movements a backflush derives.
// Implemented by the stock ledger.
type MaterialIssuer interface {
	IssueComponents(ctx context.Context, issue ComponentIssue) error
}

// ComponentIssue is the consumption a backflush hands to the stock ledger.
type ComponentIssue struct {
	OrderReference string
	LocationID     int64
	ActorID        int64
	Lines          []ComponentIssueLine
}

// ComponentIssueLine is one component draw.
type ComponentIssueLine struct {
	ComponentVariantID int64
	Quantity           decimal.Decimal
}

// Config groups cost engine policy knobs.
type Config struct {
	// StrictComponentCost turns the silent zero fallback into a hard error.
	StrictComponentCost bool
}

// Service implements standard cost roll-up, moving average maintenance and
// production order costing.
type Service struct {
	repo   Repository
	audit  AuditPort
	issuer MaterialIssuer
	cfg    Config
	now    func() time.Time
}

func NewService(repo Repository, audit AuditPort, issuer MaterialIssuer, cfg Config) *Service {
	return &Service{repo: repo, audit: audit, issuer: issuer, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) { s.now = now }

type rollFrame struct {
	bom   Bom
	next  int
	batch decimal.Decimal
}

// RollUpStandardCost computes the standard unit cost of a BOM's output.
// Components that are themselves BOM outputs are rolled up in the same pass;
// the traversal is an explicit stack with a visited set so a cyclic BOM is
// detected instead of recursing forever.
func (s *Service) RollUpStandardCost(ctx context.Context, bomID int64) (RollUpResult, error) {
	root, err := s.repo.GetBom(ctx, bomID)
	if err != nil {
		return RollUpResult{}, err
	}
	if root.OutputQuantity.Sign() == 0 {
		return RollUpResult{}, fmt.Errorf("%w: bom %d", ErrZeroOutputQty, bomID)
	}

	result := RollUpResult{BomID: root.ID, OutputVariant: root.OutputVariantID}
	resolved := map[int64]decimal.Decimal{} // bom id -> unit cost
	onPath := map[int64]bool{root.ID: true}
	stack := []rollFrame{{bom: root, batch: decimal.Zero}}

	for len(stack) > 0 {
		frame := &stack[len(stack)-1]

		if frame.next >= len(frame.bom.Items) {
			unit := decimal.Zero
			if frame.bom.OutputQuantity.Sign() > 0 {
				unit = frame.batch.Div(frame.bom.OutputQuantity)
			}
			resolved[frame.bom.ID] = unit
			delete(onPath, frame.bom.ID)
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				result.TotalBatchCost = frame.batch
				result.UnitCost = unit
			}
			continue
		}

		item := frame.bom.Items[frame.next]

		sub, err := s.repo.GetBomByOutput(ctx, item.ComponentVariantID)
		switch {
		case err == nil:
			if unit, ok := resolved[sub.ID]; ok {
				frame.batch = frame.batch.Add(unit.Mul(item.EffectiveQuantity()))
				frame.next++
				continue
			}
			if onPath[sub.ID] {
				return RollUpResult{}, fmt.Errorf("%w: bom %d via component %d", ErrCyclicBom, sub.ID, item.ComponentVariantID)
			}
			if sub.OutputQuantity.Sign() == 0 {
				result.Warnings = append(result.Warnings, CostWarning{
					ComponentVariantID: item.ComponentVariantID,
					Source:             CostSourceZero,
					Message:            fmt.Sprintf("bom %d has zero output quantity, component valued at 0", sub.ID),
				})
				resolved[sub.ID] = decimal.Zero
				continue
			}
			onPath[sub.ID] = true
			stack = append(stack, rollFrame{bom: sub, batch: decimal.Zero})
			continue
		case errors.Is(err, shared.ErrNotFound):
			cost, warning, err := s.componentCost(ctx, item.ComponentVariantID)
			if err != nil {
				return RollUpResult{}, err
			}
			if warning != nil {
				result.Warnings = append(result.Warnings, *warning)
			}
			frame.batch = frame.batch.Add(cost.Mul(item.EffectiveQuantity()))
			frame.next++
		default:
			return RollUpResult{}, err
		}
	}
	return result, nil
}

// ApplyStandardCost rolls up a BOM and writes the result onto the output
// variant. Used by the nightly refresh job.
func (s *Service) ApplyStandardCost(ctx context.Context, bomID int64, actorID int64) (RollUpResult, error) {
	result, err := s.RollUpStandardCost(ctx, bomID)
	if err != nil {
		return RollUpResult{}, err
	}
	if err := s.repo.UpdateStandardCost(ctx, result.OutputVariant, result.UnitCost); err != nil {
		return RollUpResult{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "costing:roll_up",
			Entity:   "bom",
			EntityID: fmt.Sprintf("%d", bomID),
			Meta: map[string]any{
				"output_variant_id": result.OutputVariant,
				"unit_cost":         result.UnitCost.String(),
				"warnings":          len(result.Warnings),
			},
			At: s.now(),
		})
	}
	return result, nil
}

func (s *Service) componentCost(ctx context.Context, variantID int64) (decimal.Decimal, *CostWarning, error) {
	vc, err := s.repo.GetVariantCost(ctx, variantID)
	if err != nil {
		return decimal.Zero, nil, err
	}
	switch {
	case vc.StandardCost != nil:
		return *vc.StandardCost, nil, nil
	case vc.BuyPrice != nil:
		return *vc.BuyPrice, &CostWarning{ComponentVariantID: variantID, SKU: vc.SKU, Source: CostSourceBuyPrice,
			Message: fmt.Sprintf("%s has no standard cost, using buy price", vc.SKU)}, nil
	case vc.Price != nil:
		return *vc.Price, &CostWarning{ComponentVariantID: variantID, SKU: vc.SKU, Source: CostSourcePrice,
			Message: fmt.Sprintf("%s has no standard cost or buy price, using sell price", vc.SKU)}, nil
	default:
		if s.cfg.StrictComponentCost {
			return decimal.Zero, nil, fmt.Errorf("%w: variant %s", ErrMissingComponentCost, vc.SKU)
		}
		return decimal.Zero, &CostWarning{ComponentVariantID: variantID, SKU: vc.SKU, Source: CostSourceZero,
			Message: fmt.Sprintf("%s has no configured cost, valued at 0", vc.SKU)}, nil
	}
}

// CalculateOrderCost breaks a production order down into material, machine and
// labor cost. Material uses the average cost captured at issue time and falls
// back to the component's standard cost.
func (s *Service) CalculateOrderCost(ctx context.Context, orderID int64) (OrderCost, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return OrderCost{}, err
	}
	issues, err := s.repo.OrderIssues(ctx, orderID)
	if err != nil {
		return OrderCost{}, err
	}
	execs, err := s.repo.OrderExecutions(ctx, orderID)
	if err != nil {
		return OrderCost{}, err
	}

	cost := OrderCost{OrderID: orderID, ActualQuantity: order.ActualQuantity}
	for _, issue := range issues {
		unit := decimal.Zero
		switch {
		case issue.UnitCost != nil && issue.UnitCost.Sign() > 0:
			unit = *issue.UnitCost
		case issue.StandardCost != nil:
			unit = *issue.StandardCost
		}
		cost.MaterialCost = cost.MaterialCost.Add(issue.Quantity.Mul(unit))
	}
	for _, ex := range execs {
		cost.MachineCost = cost.MachineCost.Add(ex.DurationHours.Mul(ex.MachineCostPerHour))
		cost.LaborCost = cost.LaborCost.Add(ex.DurationHours.Mul(ex.OperatorHourlyRate))
	}
	cost.TotalCost = cost.MaterialCost.Add(cost.MachineCost).Add(cost.LaborCost)
	if order.ActualQuantity.Sign() > 0 {
		cost.UnitCost = cost.TotalCost.Div(order.ActualQuantity)
	} else {
		cost.Pending = true
	}
	return cost, nil
}

// BackflushMaterials derives component consumption from the order's BOM and
// the produced quantity, then records the draws through the stock ledger.
func (s *Service) BackflushMaterials(ctx context.Context, orderID int64, producedQty decimal.Decimal, locationID, actorID int64) error {
	if producedQty.Sign() <= 0 {
		return fmt.Errorf("%w: produced quantity must be positive", shared.ErrValidation)
	}
	if s.issuer == nil {
		return fmt.Errorf("%w: no material issuer configured", shared.ErrState)
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	bom, err := s.repo.GetBom(ctx, order.BomID)
	if err != nil {
		return err
	}
	if bom.OutputQuantity.Sign() == 0 {
		return fmt.Errorf("%w: bom %d", ErrZeroOutputQty, bom.ID)
	}

	batches := producedQty.Div(bom.OutputQuantity)
	issue := ComponentIssue{
		OrderReference: order.Reference,
		LocationID:     locationID,
		ActorID:        actorID,
	}
	for _, item := range bom.Items {
		qty := item.EffectiveQuantity().Mul(batches)
		if qty.Sign() <= 0 {
			continue
		}
		issue.Lines = append(issue.Lines, ComponentIssueLine{
			ComponentVariantID: item.ComponentVariantID,
			Quantity:           qty,
		})
	}
	if len(issue.Lines) == 0 {
		return nil
	}
	if err := s.issuer.IssueComponents(ctx, issue); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "costing:backflush",
			Entity:   "production_order",
			EntityID: fmt.Sprintf("%d", orderID),
			Meta: map[string]any{
				"produced_qty": producedQty.String(),
				"components":   len(issue.Lines),
				"location_id":  locationID,
			},
			At: s.now(),
		})
	}
	return nil
}
