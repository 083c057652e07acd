package strategy

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"

	"papertrader/internal/indicator"
)

// FeaturesHash returns a deterministic content hash of the indicator inputs
// behind a decision: hex(sha1("price|ema9|ema21|rsi")).
func FeaturesHash(s indicator.Snapshot) string {
	buf := make([]byte, 0, 96)
	buf = strconv.AppendFloat(buf, s.Price, 'f', -1, 64)
	buf = append(buf, '|')
	buf = strconv.AppendFloat(buf, s.EMA9, 'f', -1, 64)
	buf = append(buf, '|')
	buf = strconv.AppendFloat(buf, s.EMA21, 'f', -1, 64)
	buf = append(buf, '|')
	buf = strconv.AppendFloat(buf, s.RSI, 'f', -1, 64)
	sum := sha1.Sum(buf)
	return hex.EncodeToString(sum[:])
}
