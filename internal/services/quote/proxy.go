package quote

import "strings"

// proxyMap maps fund-name keywords to an exchange-traded ETF whose intraday
// move stands in for feeder and QDII funds tracking the same theme.
var proxyMap = map[string]string{
	// Commodities
	"上海金": "518600",
	"黄金":  "518880",
	"豆粕":  "159985",
	"有色":  "512400",
	"能源":  "159930",

	// Overseas
	"纳斯达克":  "513100",
	"纳指":    "513100",
	"标普500": "513500",
	"标普":    "513500",
	"恒生科技":  "513130",
	"港股通科技": "513130",
	"恒生互联网": "513330",
	"中概互联":  "513050",
	"海外互联":  "513050",
	"恒生医疗":  "513060",
	"日经":    "513520",
	"东南亚":   "513910",
	"沙特":    "520830",

	// Broad indices
	"沪深300":  "510300",
	"中证500":  "510500",
	"中证1000": "512100",
	"中证2000": "561370",
	"创业板50":  "159949",
	"创业板":    "159915",
	"科创50":   "588000",
	"科创100":  "588190",
	"上证50":   "510050",
	"A50":    "560050",
	"科创创业":   "588400",
	"双创":     "588400",

	// Sectors
	"白酒":   "512690",
	"食品饮料": "512690",
	"酒":    "512690",
	"半导体":  "512480",
	"芯片":   "512480",
	"集成电路": "512480",
	"医疗":   "512170",
	"医药":   "512010",
	"生物":   "512290",
	"中药":   "562390",
	"光伏":   "515790",
	"新能源车": "515030",
	"新能车":  "515030",
	"电池":   "159755",
	"军工":   "512660",
	"国防":   "512660",
	"证券":   "512880",
	"券商":   "512880",
	"全指金融": "512880",
	"银行":   "512800",
	"人工智能": "515070",
	"AI":   "515070",
	"计算机":  "512720",
	"软件":   "515290",
	"信创":   "562030",
	"游戏":   "516010",
	"动漫":   "516010",
	"传媒":   "512980",
	"红利":   "515080",
	"高股息":  "515080",
	"煤炭":   "515220",
	"地产":   "512200",

	// Bonds
	"可转债": "511380",
	"短债":  "511260",
	"国债":  "511010",
	"政金债": "511520",
}

// isExchangeTraded reports whether code is an ETF or LOF listed on an
// exchange, which is its own best proxy.
func isExchangeTraded(code string) bool {
	for _, p := range []string{"51", "159", "56", "58"} {
		if strings.HasPrefix(code, p) {
			return true
		}
	}
	return false
}

// proxyFor returns the ETF whose quote approximates the fund, or "". The
// longest keyword contained in name wins, so a 恒生医疗 feeder maps to the
// Hang Seng healthcare ETF rather than the onshore 医疗 one. Ties break on
// the lower ETF code.
func proxyFor(code, name string) string {
	if isExchangeTraded(code) {
		return code
	}

	bestKey, bestCode := "", ""
	for key, etf := range proxyMap {
		if !strings.Contains(name, key) {
			continue
		}
		kl, bl := len([]rune(key)), len([]rune(bestKey))
		if kl > bl || (kl == bl && etf < bestCode) {
			bestKey, bestCode = key, etf
		}
	}
	return bestCode
}
