package quote

import (
	"testing"
	"time"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/models"
)

func cst(y int, m time.Month, d, hh, mm, ss int) time.Time {
	return time.Date(y, m, d, hh, mm, ss, 0, common.ChinaTZ)
}

func TestMarketPhase(t *testing.T) {
	// 2026-03-04 is a Wednesday
	tests := []struct {
		name string
		at   time.Time
		want models.MarketPhase
	}{
		{"early morning", cst(2026, 3, 4, 8, 0, 0), models.PhasePreMarket},
		{"before call auction", cst(2026, 3, 4, 9, 24, 59), models.PhasePreMarket},
		{"call auction", cst(2026, 3, 4, 9, 25, 0), models.PhaseMarket},
		{"morning session", cst(2026, 3, 4, 10, 30, 0), models.PhaseMarket},
		{"lunch starts", cst(2026, 3, 4, 11, 30, 0), models.PhaseLunchBreak},
		{"lunch ends", cst(2026, 3, 4, 12, 59, 59), models.PhaseLunchBreak},
		{"afternoon session", cst(2026, 3, 4, 13, 0, 0), models.PhaseMarket},
		{"close is inclusive", cst(2026, 3, 4, 15, 0, 0), models.PhaseMarket},
		{"after close", cst(2026, 3, 4, 15, 0, 1), models.PhasePostMarket},
		{"evening", cst(2026, 3, 4, 21, 0, 0), models.PhasePostMarket},
		{"saturday", cst(2026, 3, 7, 10, 0, 0), models.PhaseClosed},
		{"sunday", cst(2026, 3, 8, 10, 0, 0), models.PhaseClosed},
		// 02:00 UTC Wednesday is 10:00 in Shanghai
		{"utc input", time.Date(2026, 3, 4, 2, 0, 0, 0, time.UTC), models.PhaseMarket},
		// 17:00 UTC Friday is already Saturday in Shanghai
		{"utc friday evening", time.Date(2026, 3, 6, 17, 0, 0, 0, time.UTC), models.PhaseClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MarketPhase(tt.at); got != tt.want {
				t.Errorf("MarketPhase(%s) = %s, want %s", tt.at, got, tt.want)
			}
		})
	}
}

func TestIsTradingDay(t *testing.T) {
	if !IsTradingDay(cst(2026, 3, 6, 12, 0, 0)) {
		t.Error("Friday should be a trading day")
	}
	if IsTradingDay(cst(2026, 3, 7, 12, 0, 0)) {
		t.Error("Saturday should not be a trading day")
	}
}

func TestProxyFor(t *testing.T) {
	tests := []struct {
		code, name, want string
	}{
		{"510300", "华泰柏瑞沪深300ETF", "510300"},
		{"159915", "易方达创业板ETF", "159915"},
		{"000834", "大成纳斯达克100指数(QDII)", "513100"},
		{"012348", "天弘恒生科技指数(QDII)C", "513130"},
		{"005827", "易方达蓝筹精选混合", ""},
		{"161725", "招商中证白酒指数(LOF)A", "512690"},
		{"002708", "大摩健康产业混合-恒生医疗主题", "513060"},
		{"001594", "天弘中证银行ETF联接C", "512800"},
		{"012414", "招商中证白酒指数(LOF)C", "512690"},
		{"110020", "易方达沪深300ETF联接A", "510300"},
		{"007300", "国联安中证全指半导体产品与设备ETF联接", "512480"},
	}

	for _, tt := range tests {
		if got := proxyFor(tt.code, tt.name); got != tt.want {
			t.Errorf("proxyFor(%s, %s) = %q, want %q", tt.code, tt.name, got, tt.want)
		}
	}
}
