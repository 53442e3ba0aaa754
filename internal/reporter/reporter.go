package reporter

import (
	"fmt"
	"io"
	"math"
	"signal-trading-bot-go/internal/exchange"
	"signal-trading-bot-go/internal/models"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Metrics 存储计算出的所有回测性能指标
type Metrics struct {
	InitialBalance   float64
	FinalBalance     float64
	TotalProfit      float64
	ProfitPercentage float64
	Entries          int // 开仓次数
	TotalTrades      int // 卖出次数 (含部分卖出)
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	AvgProfitLoss    float64 // 平均盈利 / 平均亏损
	ProfitFactor     float64 // 总盈利 / 总亏损
	AvgHoldMinutes   float64
	MaxDrawdown      float64
	SharpeRatio      float64 // 按日收益计算，年化
	MaxExposure      float64
	TotalFees        float64
	EndingCash       float64
	EndingAssetValue float64
	TotalAssetQty    float64
	ExitsByReason    map[string]ReasonStats
	StartTime        time.Time
	EndTime          time.Time
}

// ReasonStats 按退出原因汇总
type ReasonStats struct {
	Count  int
	Profit float64
}

// Calculate 根据回测交易所的状态和引擎的成交记录计算指标
func Calculate(be *exchange.BacktestExchange, trades []models.TradeRecord) *Metrics {
	m := &Metrics{ExitsByReason: make(map[string]ReasonStats)}
	m.InitialBalance = be.InitialBalance
	m.StartTime, m.EndTime = be.Period()

	var totalProfit, totalLoss, holdMinutes float64
	for _, trade := range trades {
		if trade.Type == models.Buy {
			m.Entries++
			continue
		}
		m.TotalTrades++
		holdMinutes += trade.HoldMinutes
		if trade.Profit > 0 {
			m.WinningTrades++
			totalProfit += trade.Profit
		} else {
			m.LosingTrades++
			totalLoss += trade.Profit
		}
		rs := m.ExitsByReason[trade.Reason]
		rs.Count++
		rs.Profit += trade.Profit
		m.ExitsByReason[trade.Reason] = rs
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
		m.AvgHoldMinutes = holdMinutes / float64(m.TotalTrades)
	}
	if m.LosingTrades > 0 && m.WinningTrades > 0 {
		avgWin := totalProfit / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		if avgLoss > 0 {
			m.AvgProfitLoss = avgWin / avgLoss
		}
	}
	if totalLoss < 0 {
		m.ProfitFactor = totalProfit / math.Abs(totalLoss)
	}

	// 计算期末资产详情
	m.EndingCash = be.Cash
	m.TotalAssetQty = be.Position
	m.EndingAssetValue = m.TotalAssetQty * be.CurrentPrice()
	m.FinalBalance = m.EndingCash + m.EndingAssetValue
	m.TotalFees = be.TotalFees
	m.MaxExposure = be.GetMaxWalletExposure() * 100

	m.TotalProfit = m.FinalBalance - m.InitialBalance
	if m.InitialBalance != 0 {
		m.ProfitPercentage = (m.TotalProfit / m.InitialBalance) * 100
	}

	m.MaxDrawdown = calculateMaxDrawdown(be.EquityCurve) * 100
	m.SharpeRatio = calculateSharpe(be.GetDailyEquity())

	return m
}

// GenerateReport 计算并以表格形式输出回测报告
func GenerateReport(w io.Writer, be *exchange.BacktestExchange, trades []models.TradeRecord, dataPath string) *Metrics {
	m := Calculate(be, trades)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("回测结果报告")
	t.AppendRows([]table.Row{
		{"数据文件", dataPath},
		{"交易对", be.Symbol},
		{"回测周期", fmt.Sprintf("%s 到 %s", m.StartTime.Format("2006-01-02 15:04"), m.EndTime.Format("2006-01-02 15:04"))},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"初始资金", fmt.Sprintf("%.2f USDT", m.InitialBalance)},
		{"最终资金", fmt.Sprintf("%.2f USDT", m.FinalBalance)},
		{"总利润", fmt.Sprintf("%.2f USDT", m.TotalProfit)},
		{"收益率", fmt.Sprintf("%.2f%%", m.ProfitPercentage)},
		{"手续费", fmt.Sprintf("%.2f USDT", m.TotalFees)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"开仓次数", m.Entries},
		{"卖出次数", m.TotalTrades},
		{"盈利次数", m.WinningTrades},
		{"亏损次数", m.LosingTrades},
		{"胜率", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"平均盈亏比", fmt.Sprintf("%.2f", m.AvgProfitLoss)},
		{"盈利因子", fmt.Sprintf("%.2f", m.ProfitFactor)},
		{"平均持仓", fmt.Sprintf("%.0f 分钟", m.AvgHoldMinutes)},
		{"最大回撤", fmt.Sprintf("%.2f%%", m.MaxDrawdown)},
		{"夏普比率", fmt.Sprintf("%.2f", m.SharpeRatio)},
		{"最大持仓占比", fmt.Sprintf("%.2f%%", m.MaxExposure)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"期末现金", fmt.Sprintf("%.2f USDT", m.EndingCash)},
		{"期末持仓市值", fmt.Sprintf("%.2f USDT (共 %.6f)", m.EndingAssetValue, m.TotalAssetQty)},
	})
	t.Render()

	if len(m.ExitsByReason) > 0 {
		renderReasons(w, m.ExitsByReason)
	}
	return m
}

func renderReasons(w io.Writer, reasons map[string]ReasonStats) {
	names := make([]string, 0, len(reasons))
	for name := range reasons {
		names = append(names, name)
	}
	sort.Strings(names)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("退出原因")
	t.AppendHeader(table.Row{"原因", "次数", "盈亏 (USDT)"})
	var count int
	var profit float64
	for _, name := range names {
		rs := reasons[name]
		t.AppendRow(table.Row{name, rs.Count, fmt.Sprintf("%.2f", rs.Profit)})
		count += rs.Count
		profit += rs.Profit
	}
	t.AppendFooter(table.Row{"合计", count, fmt.Sprintf("%.2f", profit)})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	t.Render()
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// calculateSharpe 日收益的年化夏普比率 (无风险利率取0)，日收益少于两个时返回0
func calculateSharpe(dailyEquity map[string]float64) float64 {
	days := make([]string, 0, len(dailyEquity))
	for d := range dailyEquity {
		days = append(days, d)
	}
	if len(days) < 3 {
		return 0
	}
	sort.Strings(days)

	returns := make([]float64, 0, len(days)-1)
	for i := 1; i < len(days); i++ {
		prev := dailyEquity[days[i-1]]
		if prev == 0 {
			continue
		}
		returns = append(returns, dailyEquity[days[i]]/prev-1)
	}
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)-1))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(365)
}
