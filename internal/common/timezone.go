package common

import "time"

// ChinaTZ is China Standard Time. A fixed offset is used so behaviour does
// not depend on the host's tzdata.
var ChinaTZ = time.FixedZone("CST", 8*60*60)

// InChina converts t to China Standard Time.
func InChina(t time.Time) time.Time {
	return t.In(ChinaTZ)
}
