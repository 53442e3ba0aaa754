package risk

import "signal-trading-bot-go/internal/models"

// TradeHistory 最近的成交记录，超过容量时丢弃最旧的
type TradeHistory struct {
	capacity int
	trades   []models.TradeRecord
}

// NewTradeHistory capacity<=0 时不限制
func NewTradeHistory(capacity int) *TradeHistory {
	return &TradeHistory{capacity: capacity}
}

// Add 追加一条成交
func (h *TradeHistory) Add(rec models.TradeRecord) {
	h.trades = append(h.trades, rec)
	if h.capacity > 0 && len(h.trades) > h.capacity {
		h.trades = append(h.trades[:0:0], h.trades[len(h.trades)-h.capacity:]...)
	}
}

// Len 记录数
func (h *TradeHistory) Len() int { return len(h.trades) }

// All 按时间正序返回副本
func (h *TradeHistory) All() []models.TradeRecord {
	out := make([]models.TradeRecord, len(h.trades))
	copy(out, h.trades)
	return out
}

// RecentSells 最近 n 笔卖出，按时间正序。n<=0 时返回全部
func (h *TradeHistory) RecentSells(n int) []models.TradeRecord {
	var sells []models.TradeRecord
	for i := len(h.trades) - 1; i >= 0; i-- {
		if h.trades[i].Type != models.Sell {
			continue
		}
		sells = append(sells, h.trades[i])
		if n > 0 && len(sells) == n {
			break
		}
	}
	for i, j := 0, len(sells)-1; i < j; i, j = i+1, j-1 {
		sells[i], sells[j] = sells[j], sells[i]
	}
	return sells
}

// Stats 卖出统计
type Stats struct {
	Trades  int
	Wins    int
	Losses  int
	AvgWin  float64 // 盈利单平均收益率
	AvgLoss float64 // 亏损单平均亏损率 (正数)
}

// WinRate 胜率
func (s Stats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}

// Kelly 凯利比例 p - (1-p)/b，b 为盈亏比。没有亏损单时返回 ok=false
func (s Stats) Kelly() (float64, bool) {
	if s.Trades == 0 || s.AvgLoss <= 0 || s.AvgWin <= 0 {
		return 0, false
	}
	p := s.WinRate()
	b := s.AvgWin / s.AvgLoss
	return p - (1-p)/b, true
}

// RoundTrip 一笔完整交易，分批卖出合并为一次结果
type RoundTrip struct {
	EntryID   string
	Sells     int
	Profit    float64
	ProfitPct float64 // 相对已卖出部分成本的收益率
}

// RoundTrips 最近 n 笔已结束的交易，按时间正序。仍有剩余持仓的交易不计入
func (h *TradeHistory) RoundTrips(n int) []RoundTrip {
	type acc struct {
		trip   RoundTrip
		cost   float64
		closed bool
	}
	var (
		order []*acc
		trips = make(map[string]*acc)
	)
	// 同一时间最多一个持仓，各笔交易的卖出不会交错
	for _, t := range h.trades {
		if t.Type != models.Sell {
			continue
		}
		// 没有开仓ID的旧记录各自算一笔
		a := trips[t.EntryID]
		if a == nil || t.EntryID == "" {
			a = &acc{trip: RoundTrip{EntryID: t.EntryID}}
			order = append(order, a)
			if t.EntryID != "" {
				trips[t.EntryID] = a
			}
		}
		a.trip.Sells++
		a.trip.Profit += t.Profit
		a.trip.ProfitPct = t.ProfitPct
		a.cost += t.Value - t.Fee - t.Profit
		a.closed = !t.Partial
	}

	var out []RoundTrip
	for _, a := range order {
		if !a.closed {
			continue
		}
		if a.trip.Sells > 1 && a.cost > 0 {
			a.trip.ProfitPct = a.trip.Profit / a.cost
		}
		out = append(out, a.trip)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// TripProfit rec 所属整笔交易截至目前的已实现盈亏
func (h *TradeHistory) TripProfit(rec models.TradeRecord) float64 {
	if rec.EntryID == "" {
		return rec.Profit
	}
	total := 0.0
	for _, t := range h.trades {
		if t.Type == models.Sell && t.EntryID == rec.EntryID {
			total += t.Profit
		}
	}
	return total
}

// Stats 统计最近 n 笔完整交易
func (h *TradeHistory) Stats(n int) Stats {
	var (
		s               Stats
		winSum, lossSum float64
	)
	for _, t := range h.RoundTrips(n) {
		s.Trades++
		if t.Profit > 0 {
			s.Wins++
			winSum += t.ProfitPct
		} else {
			s.Losses++
			lossSum -= t.ProfitPct
		}
	}
	if s.Wins > 0 {
		s.AvgWin = winSum / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = lossSum / float64(s.Losses)
	}
	return s
}
