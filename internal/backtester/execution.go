package backtester

import (
	"github.com/google/uuid"
	"github.com/quantdesk/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SlippageModel adjusts a fill price adversely to the order direction.
type SlippageModel interface {
	Apply(order *types.Order, price decimal.Decimal) decimal.Decimal
}

// FixedSlippage shifts the price by a fixed fraction: up for buys, down
// for sells.
type FixedSlippage struct {
	Rate decimal.Decimal
}

func (s FixedSlippage) Apply(order *types.Order, price decimal.Decimal) decimal.Decimal {
	if order.Action == types.ActionBuy {
		return price.Mul(decimal.NewFromInt(1).Add(s.Rate))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(s.Rate))
}

// ExecutionHandler simulates immediate fills at the bar price after
// slippage, charging commission per the configured schedule.
type ExecutionHandler struct {
	logger   *zap.Logger
	cfg      types.ExecutionConfig
	slippage SlippageModel
}

func NewExecutionHandler(logger *zap.Logger, cfg types.ExecutionConfig) *ExecutionHandler {
	return &ExecutionHandler{
		logger:   logger,
		cfg:      cfg,
		slippage: FixedSlippage{Rate: cfg.SlippageRate},
	}
}

// NewOrder builds an order with a fresh id.
func (h *ExecutionHandler) NewOrder(symbol string, action types.OrderAction, quantity int64, price decimal.Decimal) *types.Order {
	return &types.Order{
		ID:       uuid.New().String(),
		Symbol:   symbol,
		Action:   action,
		Quantity: quantity,
		Price:    price,
	}
}

// CalculateCommission returns max(quantity * price * rate, minimum).
func (h *ExecutionHandler) CalculateCommission(quantity int64, price decimal.Decimal) decimal.Decimal {
	commission := decimal.NewFromInt(quantity).Mul(price).Mul(h.cfg.CommissionRate)
	if commission.LessThan(h.cfg.MinCommission) {
		return h.cfg.MinCommission
	}
	return commission
}

// ExecuteOrder fills the order at the bar price after adverse slippage.
func (h *ExecutionHandler) ExecuteOrder(order *types.Order, bar types.Bar) types.Fill {
	fillPrice := h.slippage.Apply(order, order.Price)
	slip := fillPrice.Sub(order.Price).Abs()
	commission := h.CalculateCommission(order.Quantity, fillPrice)

	fill := types.Fill{
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Action:     order.Action,
		Quantity:   order.Quantity,
		Price:      fillPrice,
		Commission: commission,
		Slippage:   slip,
		Date:       bar.Date,
	}

	h.logger.Debug("order filled",
		zap.String("order_id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("action", string(order.Action)),
		zap.Int64("quantity", order.Quantity),
		zap.String("price", fillPrice.String()),
		zap.String("commission", commission.String()))

	return fill
}
