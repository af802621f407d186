package ledger

// CurrencyID maps settlement currency symbols to numeric IDs for performance
type CurrencyID uint16

var (
	currencyToID = map[string]CurrencyID{
		"STX":  1,
		"SBTC": 2,
	}
	idToCurrency = map[CurrencyID]string{
		1: "STX",
		2: "SBTC",
	}
)

func GetCurrencyID(symbol string) (CurrencyID, bool) {
	id, ok := currencyToID[symbol]
	return id, ok
}

func GetCurrencyName(id CurrencyID) (string, bool) {
	name, ok := idToCurrency[id]
	return name, ok
}

// Currencies returns all settlement currency IDs in deterministic order.
func Currencies() []CurrencyID {
	return []CurrencyID{1, 2}
}

// Principal is an opaque on-chain account identity (address string).
// The ledger never interprets it beyond equality checks.
type Principal string
