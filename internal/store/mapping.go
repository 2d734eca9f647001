package store

import "github.com/web3guy0/polybot/internal/domain"

func toPortfolioModel(p *domain.Portfolio) *portfolioModel {
	return &portfolioModel{
		ID:             p.ID,
		Name:           p.Name,
		ProviderTag:    p.ProviderTag,
		InitialBalance: p.InitialBalance,
		CurrentBalance: p.CurrentBalance,
		Currency:       p.Currency,
		MarginMode:     string(p.MarginMode),
		Leverage:       p.Leverage,
		CreatedAt:      p.CreatedAt,
	}
}

func fromPortfolioModel(m *portfolioModel) *domain.Portfolio {
	return &domain.Portfolio{
		ID:             m.ID,
		Name:           m.Name,
		ProviderTag:    m.ProviderTag,
		InitialBalance: m.InitialBalance,
		CurrentBalance: m.CurrentBalance,
		Currency:       m.Currency,
		MarginMode:     domain.MarginMode(m.MarginMode),
		Leverage:       m.Leverage,
		CreatedAt:      m.CreatedAt,
	}
}

func toPositionModel(p *domain.Position) *positionModel {
	return &positionModel{
		ID:               p.ID,
		PortfolioID:      p.PortfolioID,
		Symbol:           p.Symbol,
		Side:             string(p.Side),
		EntryPrice:       p.EntryPrice,
		Quantity:         p.Quantity,
		Leverage:         p.Leverage,
		MarginMode:       string(p.MarginMode),
		OpenedAt:         p.OpenedAt,
		ClosedAt:         p.ClosedAt,
		Status:           string(p.Status),
		CurrentPrice:     p.CurrentPrice,
		UnrealizedPnL:    p.UnrealizedPnL,
		RealizedPnL:      p.RealizedPnL,
		LiquidationPrice: p.LiquidationPrice,
		TrailingExtreme:  p.TrailingExtreme,
		TrailingStop:     p.TrailingStop,
	}
}

func fromPositionModel(m *positionModel) *domain.Position {
	return &domain.Position{
		ID:               m.ID,
		PortfolioID:      m.PortfolioID,
		Symbol:           m.Symbol,
		Side:             domain.PositionSide(m.Side),
		EntryPrice:       m.EntryPrice,
		Quantity:         m.Quantity,
		Leverage:         m.Leverage,
		MarginMode:       domain.MarginMode(m.MarginMode),
		OpenedAt:         m.OpenedAt,
		ClosedAt:         m.ClosedAt,
		Status:           domain.PositionStatus(m.Status),
		CurrentPrice:     m.CurrentPrice,
		UnrealizedPnL:    m.UnrealizedPnL,
		RealizedPnL:      m.RealizedPnL,
		LiquidationPrice: m.LiquidationPrice,
		TrailingExtreme:  m.TrailingExtreme,
		TrailingStop:     m.TrailingStop,
	}
}

func toOrderModel(o *domain.Order) *orderModel {
	return &orderModel{
		ID:              o.ID,
		PortfolioID:     o.PortfolioID,
		Symbol:          o.Symbol,
		Side:            string(o.Side),
		Type:            string(o.Type),
		Quantity:        o.Quantity,
		Price:           o.Price,
		StopPrice:       o.StopPrice,
		TimeInForce:     string(o.TimeInForce),
		PostOnly:        o.PostOnly,
		ReduceOnly:      o.ReduceOnly,
		TrailingPercent: o.TrailingPercent,
		TrailingAmount:  o.TrailingAmount,
		IcebergQty:      o.IcebergQty,
		Leverage:        o.Leverage,
		MarginMode:      string(o.MarginMode),
		FilledQuantity:  o.FilledQuantity,
		AvgFillPrice:    o.AvgFillPrice,
		Status:          string(o.Status),
		CreatedAt:       o.CreatedAt,
		FilledAt:        o.FilledAt,
		TrailingExtreme: o.TrailingExtreme,
	}
}

func fromOrderModel(m *orderModel) *domain.Order {
	return &domain.Order{
		ID:              m.ID,
		PortfolioID:     m.PortfolioID,
		Symbol:          m.Symbol,
		Side:            domain.OrderSide(m.Side),
		Type:            domain.OrderType(m.Type),
		Quantity:        m.Quantity,
		Price:           m.Price,
		StopPrice:       m.StopPrice,
		TimeInForce:     domain.TimeInForce(m.TimeInForce),
		PostOnly:        m.PostOnly,
		ReduceOnly:      m.ReduceOnly,
		TrailingPercent: m.TrailingPercent,
		TrailingAmount:  m.TrailingAmount,
		IcebergQty:      m.IcebergQty,
		Leverage:        m.Leverage,
		MarginMode:      domain.MarginMode(m.MarginMode),
		FilledQuantity:  m.FilledQuantity,
		AvgFillPrice:    m.AvgFillPrice,
		Status:          domain.OrderStatus(m.Status),
		CreatedAt:       m.CreatedAt,
		FilledAt:        m.FilledAt,
		TrailingExtreme: m.TrailingExtreme,
	}
}

func toTradeModel(t *domain.Trade) *tradeModel {
	return &tradeModel{
		ID:          t.ID,
		PortfolioID: t.PortfolioID,
		OrderID:     t.OrderID,
		Symbol:      t.Symbol,
		Side:        string(t.Side),
		Price:       t.Price,
		Quantity:    t.Quantity,
		Fee:         t.Fee,
		FeeRate:     t.FeeRate,
		IsMaker:     t.IsMaker,
		Timestamp:   t.Timestamp,
	}
}

func fromTradeModel(m *tradeModel) *domain.Trade {
	return &domain.Trade{
		ID:          m.ID,
		PortfolioID: m.PortfolioID,
		OrderID:     m.OrderID,
		Symbol:      m.Symbol,
		Side:        domain.OrderSide(m.Side),
		Price:       m.Price,
		Quantity:    m.Quantity,
		Fee:         m.Fee,
		FeeRate:     m.FeeRate,
		IsMaker:     m.IsMaker,
		Timestamp:   m.Timestamp,
	}
}
