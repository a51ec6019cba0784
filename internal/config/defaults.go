package config

// Default returns the built-in configuration covering the supported countries.
func Default() *Config {
	return &Config{
		Collector: CollectorConfig{
			Countries: defaultCountries(),
			Retry: RetryPolicy{
				MaxAttempts:       3,
				InitialDelayMs:    500,
				MaxDelayMs:        10000,
				BackoffMultiplier: 2.0,
				TimeoutSec:        30,
			},
			Concurrency: ConcurrencyConfig{MaxCountries: 1},
			Output: OutputConfig{
				DataDir:     "data/immigration_data",
				PrettyPrint: true,
			},
			RunLog: RunLogConfig{
				Path:          "data/immigration_data/runs.db",
				StaleAfterMin: 60,
				Enabled:       true,
			},
			Changes: ChangesConfig{Identity: "fingerprint"},
			Monitoring: MonitoringConfig{
				IntervalSec:   24 * 60 * 60,
				RetryAfterSec: 5 * 60,
			},
			Logging: LoggingConfig{Level: "info"},
		},
		Advanced: AdvancedConfig{
			BufferSizeKb: 2048,
		},
	}
}

func defaultCountries() []CountryConfig {
	return []CountryConfig{
		{
			Code:    "US",
			Name:    "United States",
			Enabled: true,
			Sources: []SourceConfig{{
				Name:       "USCIS",
				Kind:       SourceHTML,
				PolicyType: "visa",
				BaseURL:    "https://www.uscis.gov",
				URLs: []string{
					"https://www.uscis.gov/working-in-the-united-states/temporary-workers",
					"https://www.uscis.gov/green-card/green-card-eligibility-categories",
					"https://www.uscis.gov/working-in-the-united-states/students-and-exchange-visitors",
				},
				SectionPattern:     `visa|immigration|work|study`,
				RequirementPattern: `require|need|must`,
			}},
		},
		{
			Code:    "CA",
			Name:    "Canada",
			Enabled: true,
			Sources: []SourceConfig{{
				Name:       "IRCC",
				Kind:       SourceHTML,
				PolicyType: "immigration_program",
				BaseURL:    "https://www.canada.ca/en/immigration-refugees-citizenship",
				URLs: []string{
					"https://www.canada.ca/en/immigration-refugees-citizenship/services/immigrate-canada.html",
					"https://www.canada.ca/en/immigration-refugees-citizenship/services/work-canada.html",
					"https://www.canada.ca/en/immigration-refugees-citizenship/services/study-canada.html",
				},
				SectionPattern:     `program|immigration|visa`,
				RequirementPattern: `require|need|must|eligible`,
			}},
		},
		{
			Code:    "UK",
			Name:    "United Kingdom",
			Enabled: true,
			Sources: []SourceConfig{{
				Name:    "UK Government",
				Kind:    SourceStub,
				BaseURL: "https://www.gov.uk",
				URLs: []string{
					"https://www.gov.uk/browse/visas-immigration",
					"https://www.gov.uk/apply-uk-visa",
					"https://www.gov.uk/student-visa",
				},
			}},
		},
		{
			Code:    "AU",
			Name:    "Australia",
			Enabled: true,
			Sources: []SourceConfig{{
				Name:    "Department of Home Affairs",
				Kind:    SourceStub,
				BaseURL: "https://immi.homeaffairs.gov.au",
				URLs: []string{
					"https://immi.homeaffairs.gov.au/visas/getting-a-visa/visa-listing",
					"https://immi.homeaffairs.gov.au/visas/getting-a-visa/visa-finder",
				},
			}},
		},
		{
			Code:    "DE",
			Name:    "Germany",
			Enabled: true,
			Sources: []SourceConfig{{
				Name:    "Federal Foreign Office",
				Kind:    SourceStub,
				BaseURL: "https://www.auswaertiges-amt.de",
				URLs: []string{
					"https://www.auswaertiges-amt.de/en/visa-service",
					"https://www.auswaertiges-amt.de/en/travel-and-security",
				},
			}},
		},
	}
}
