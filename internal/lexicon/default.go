package lexicon

// DefaultVersion identifies the built-in lexicon.
const DefaultVersion = "2026.10.1"

// Default returns the built-in lexicon. Each call returns a fresh copy so
// callers can never mutate shared tables.
func Default() *Lexicon {
	return &Lexicon{
		Version: DefaultVersion,
		Organizations: []Organization{
			{
				Name:             "Caldera",
				Aliases:          []string{"Caldera Labs", "Metalayer"},
				TokenSymbols:     []string{"CAL"},
				ExclusionPhrases: []string{"volcanic caldera", "volcano", "yellowstone caldera", "caldera lake"},
				Priority:         TierHigh,
				LifecycleStatus:  "pre_token",
			},
			{
				Name:             "Succinct",
				Aliases:          []string{"Succinct Labs", "SP1"},
				TokenSymbols:     []string{"PROVE"},
				ExclusionPhrases: []string{"succinct summary", "succinct explanation", "succinct answer"},
				Priority:         TierHigh,
				LifecycleStatus:  "pre_token",
			},
			{
				Name:             "Monad",
				Aliases:          []string{"Monad Labs"},
				TokenSymbols:     []string{"MON"},
				ExclusionPhrases: []string{"monad transformer", "haskell", "functional programming"},
				Priority:         TierHigh,
				LifecycleStatus:  "pre_token",
				CashtagOnly:      true,
			},
			{
				Name:            "MegaETH",
				Aliases:         []string{"Mega ETH"},
				TokenSymbols:    []string{"MEGA"},
				Priority:        TierHigh,
				LifecycleStatus: "pre_token",
			},
			{
				Name:            "Linea",
				Aliases:         []string{"Linea Network"},
				TokenSymbols:    []string{"LINEA"},
				Priority:        TierHigh,
				LifecycleStatus: "pre_token",
			},
			{
				Name:            "Berachain",
				Aliases:         []string{"Bera Chain"},
				TokenSymbols:    []string{"BERA", "BGT"},
				Priority:        TierMedium,
				LifecycleStatus: "launched",
			},
			{
				Name:             "Eclipse",
				Aliases:          []string{"Eclipse Labs"},
				TokenSymbols:     []string{"ES"},
				ExclusionPhrases: []string{"solar eclipse", "lunar eclipse", "total eclipse", "eclipse ide"},
				Priority:         TierMedium,
				LifecycleStatus:  "pre_token",
				CashtagOnly:      true,
			},
			{
				Name:            "Hyperlane",
				TokenSymbols:    []string{"HYPER"},
				Priority:        TierMedium,
				LifecycleStatus: "launched",
			},
			{
				Name:            "Initia",
				TokenSymbols:    []string{"INIT"},
				Priority:        TierLow,
				LifecycleStatus: "launched",
				CashtagOnly:     true,
			},
			{
				Name:             "Fuel Network",
				Aliases:          []string{"Fuel Labs"},
				TokenSymbols:     []string{"FUEL"},
				ExclusionPhrases: []string{"fuel prices", "jet fuel", "fuel tank"},
				Priority:         TierLow,
				LifecycleStatus:  "launched",
			},
			{
				Name:            "Farcaster",
				Aliases:         []string{"Warpcast"},
				Priority:        TierLow,
				LifecycleStatus: "pre_token",
			},
		},
		Keywords: KeywordSet{
			High: []string{
				"tge",
				"token generation event",
				"airdrop is live",
				"claim is live",
				"token is now live",
				"trading is live",
				"airdrop claim",
				"token launch",
				"launches token",
				"genesis airdrop",
			},
			Medium: []string{
				"airdrop",
				"token distribution",
				"tokenomics",
				"snapshot",
				"mainnet launch",
				"points program",
				"claim portal",
				"listing",
				"eligibility checker",
			},
			Low: []string{
				"coming soon",
				"announcement",
				"roadmap",
				"community",
				"incentives",
				"rewards",
			},
		},
		Exclusions: []string{
			"testnet",
			"devnet",
			"price prediction",
			"price analysis",
			"fake airdrop",
			"phishing",
			"scam alert",
		},
	}
}
