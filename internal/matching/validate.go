package matching

import (
	"github.com/web3guy0/polybot/internal/domain"
	"github.com/web3guy0/polybot/internal/domainerr"
)

// validateOrderShape checks the per-type required parameters of spec.md
// §4.4 step 2: "stop/stop_limit require stop_price; trailing_* requires
// percent or amount; iceberg requires iceberg_qty".
func validateOrderShape(o *domain.Order) error {
	switch o.Type {
	case domain.OrderStop, domain.OrderStopLimit:
		if o.StopPrice == nil {
			return domainerr.InvalidOrder{Reason: string(o.Type) + " requires stop_price"}
		}
		if o.Type == domain.OrderStopLimit && o.Price == nil {
			return domainerr.InvalidOrder{Reason: "stop_limit requires price"}
		}
	case domain.OrderTrailingStop:
		hasPct := o.TrailingPercent != nil
		hasAmt := o.TrailingAmount != nil
		if hasPct == hasAmt {
			return domainerr.InvalidOrder{Reason: "trailing_stop requires exactly one of trailing_percent or trailing_amount"}
		}
	case domain.OrderIceberg:
		if o.IcebergQty == nil {
			return domainerr.InvalidOrder{Reason: "iceberg requires iceberg_qty"}
		}
		fallthrough
	case domain.OrderLimit:
		if o.Price == nil {
			return domainerr.InvalidOrder{Reason: string(o.Type) + " requires price"}
		}
	case domain.OrderMarket:
		// no extra parameters required
	default:
		return domainerr.InvalidOrder{Reason: "unknown order type"}
	}
	return nil
}
