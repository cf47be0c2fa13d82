package matcher

// Fixed vocabularies used by the strategy ladder. They are deliberately
// small and are not part of the configurable lexicon.

// strongOverrides are unambiguous TGE phrases that let an item through even
// when a global exclusion phrase is present.
var strongOverrides = []string{
	"token generation event",
	"tge",
	"airdrop is live",
	"claim is live",
	"token is now live",
	"now live on mainnet",
}

// signalWords maps a generic crypto/launch signal to the surface forms that
// count for it. Each root counts at most once.
var signalWords = []wordForms{
	{"token", []string{"token", "tokens"}},
	{"mainnet", []string{"mainnet"}},
	{"launch", []string{"launch", "launches", "launched", "launching"}},
	{"protocol", []string{"protocol"}},
	{"airdrop", []string{"airdrop", "airdrops"}},
	{"blockchain", []string{"blockchain"}},
	{"crypto", []string{"crypto", "cryptocurrency"}},
	{"defi", []string{"defi"}},
	{"listing", []string{"listing", "listed"}},
	{"trading", []string{"trading"}},
	{"exchange", []string{"exchange", "exchanges"}},
	{"staking", []string{"staking"}},
	{"claim", []string{"claim", "claims", "claiming"}},
	{"web3", []string{"web3"}},
	{"governance", []string{"governance"}},
	{"network", []string{"network"}},
}

// actionVerbs are the verbs that, next to a ticker, make a token+action match.
var actionVerbs = []wordForms{
	{"launch", []string{"launch", "launches", "launched", "launching"}},
	{"release", []string{"release", "releases", "released", "releasing"}},
	{"deploy", []string{"deploy", "deploys", "deployed", "deploying"}},
	{"mint", []string{"mint", "mints", "minted", "minting"}},
	{"distribute", []string{"distribute", "distributes", "distributed", "distributing"}},
	{"airdrop", []string{"airdrop", "airdrops", "airdropped", "airdropping"}},
}

type wordForms struct {
	root  string
	forms []string
}

const (
	minTextLength = 10
	maxTextLength = 50_000

	// Bare upper-case tickers shorter than this only count as $cashtags.
	minBareTickerLength = 3

	baseHighConfidence   = 85
	baseMediumConfidence = 65
	baseTokenAction      = 75

	minSignalsForMedium = 3
	maxKeywordBonus     = 10
	maxSignalBonus      = 5
)
