package formance

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Account naming constants and utility functions to ensure consistency
// across the entire Formance integration

const (
	// Account prefixes
	PlayerAccountPrefix = "player"

	// Account suffixes
	WalletSuffix = "wallet"

	// Transaction metadata
	MetadataType   = "type"
	MetadataGameID = "game_id"
	TypeSettlement = "settlement"
)

var invalidSegmentChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

var (
	maxUnits = decimal.NewFromInt(math.MaxInt64)
	minUnits = decimal.NewFromInt(math.MinInt64)
)

// PlayerWalletAccount returns the wallet account name for a user
func PlayerWalletAccount(userID string) string {
	return fmt.Sprintf("%s:%s:%s", PlayerAccountPrefix, accountSegment(userID), WalletSuffix)
}

// accountSegment makes an id safe to use inside an account address
func accountSegment(id string) string {
	return invalidSegmentChars.ReplaceAllString(id, "_")
}

// ValidateAccountFormat reports whether account is a player wallet address
func ValidateAccountFormat(account string) bool {
	parts := strings.Split(account, ":")
	if len(parts) != 3 || parts[0] != PlayerAccountPrefix || parts[2] != WalletSuffix {
		return false
	}
	return parts[1] != "" && !invalidSegmentChars.MatchString(parts[1])
}

// assetPrecision returns the number of decimal places of an asset such as
// "USD/2". Assets without a precision are whole units.
func assetPrecision(asset string) (int32, error) {
	_, precision, found := strings.Cut(asset, "/")
	if !found {
		return 0, nil
	}
	p, err := strconv.ParseInt(precision, 10, 32)
	if err != nil || p < 0 {
		return 0, fmt.Errorf("invalid asset precision in %q", asset)
	}
	return int32(p), nil
}

// ToMinorUnits converts an amount to the integer units Formance records. It
// fails rather than round when the amount has more decimals than the asset.
func ToMinorUnits(amount decimal.Decimal, asset string) (int64, error) {
	precision, err := assetPrecision(asset)
	if err != nil {
		return 0, err
	}
	shifted := amount.Shift(precision)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more precision than asset %s", amount, asset)
	}
	if shifted.GreaterThan(maxUnits) || shifted.LessThan(minUnits) {
		return 0, fmt.Errorf("amount %s is out of range for asset %s", amount, asset)
	}
	return shifted.IntPart(), nil
}

// FromMinorUnits converts Formance integer units back to an amount
func FromMinorUnits(units int64, asset string) (decimal.Decimal, error) {
	precision, err := assetPrecision(asset)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(units, -precision), nil
}
