package filter

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/amishk599/jobpipe/internal/config"
	"github.com/amishk599/jobpipe/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPatterns() *config.PatternSet {
	return &config.PatternSet{
		Title: config.TitlePatterns{
			Include: []string{"data engineer", "product manager", "re:^delivery (lead|manager)"},
			Exclude: []string{"intern", "re:\\bsales\\b"},
		},
		Location: config.LocationPatterns{
			Cities: map[string][]string{
				"lon": {"london"},
				"man": {"manchester"},
			},
			Regions: map[string]config.RegionPatterns{
				"uk": {Patterns: []string{"united kingdom", "uk"}, Cities: []string{"lon", "man"}},
			},
			Remote: []string{"remote", "anywhere"},
		},
		Agency: config.AgencyPatterns{
			Exact:    []string{"Hays", "Robert Walters"},
			Keywords: []string{"recruitment", "staffing"},
		},
	}
}

func posting(title, location, company string) model.NormalizedPosting {
	return model.NormalizedPosting{Title: title, LocationText: location, CompanyName: company}
}

func TestChain_Evaluate(t *testing.T) {
	chain, err := NewChain(model.SourceATSA, testPatterns(), false, discardLogger())
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	tests := []struct {
		name      string
		posting   model.NormalizedPosting
		wantPass  bool
		wantGate  Gate
		wantScope model.LocationScope
	}{
		{
			name:      "city match",
			posting:   posting("Senior Data Engineer", "London, UK", "Acme"),
			wantPass:  true,
			wantScope: model.LocationScope{Kind: model.ScopeCity, Code: "lon"},
		},
		{
			name:      "region only",
			posting:   posting("Product Manager", "United Kingdom", "Acme"),
			wantPass:  true,
			wantScope: model.LocationScope{Kind: model.ScopeRegion, Code: "uk"},
		},
		{
			name:      "remote only",
			posting:   posting("Data Engineer", "Remote", "Acme"),
			wantPass:  true,
			wantScope: model.LocationScope{Kind: model.ScopeRemote, Code: RemoteCode},
		},
		{
			name:      "earliest named city wins",
			posting:   posting("Data Engineer", "Manchester or London", "Acme"),
			wantPass:  true,
			wantScope: model.LocationScope{Kind: model.ScopeCity, Code: "man"},
		},
		{
			name:      "regex include",
			posting:   posting("Delivery Lead", "London", "Acme"),
			wantPass:  true,
			wantScope: model.LocationScope{Kind: model.ScopeCity, Code: "lon"},
		},
		{
			name:     "exclude beats include",
			posting:  posting("Data Engineer Intern", "London", "Acme"),
			wantGate: GateTitle,
		},
		{
			name:     "regex exclude",
			posting:  posting("Product Manager, Sales", "London", "Acme"),
			wantGate: GateTitle,
		},
		{
			name:     "no include match",
			posting:  posting("Frontend Developer", "London", "Acme"),
			wantGate: GateTitle,
		},
		{
			name:     "untracked location",
			posting:  posting("Data Engineer", "Paris, France", "Acme"),
			wantGate: GateLocation,
		},
		{
			name:     "region literal needs a word boundary",
			posting:  posting("Data Engineer", "Kyiv, Ukraine", "Acme"),
			wantGate: GateLocation,
		},
		{
			name:     "exact agency",
			posting:  posting("Data Engineer", "London", "HAYS"),
			wantGate: GateAgency,
		},
		{
			name:     "agency keyword",
			posting:  posting("Data Engineer", "London", "Talent Recruitment Partners"),
			wantGate: GateAgency,
		},
		{
			name:     "title rejection short-circuits agency",
			posting:  posting("Sales Intern", "Paris", "Hays"),
			wantGate: GateTitle,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := chain.Evaluate(tt.posting)
			if d.Passed != tt.wantPass {
				t.Fatalf("Passed = %v, want %v (%+v)", d.Passed, tt.wantPass, d)
			}
			if !tt.wantPass {
				if d.RejectedBy != tt.wantGate {
					t.Errorf("RejectedBy = %q, want %q", d.RejectedBy, tt.wantGate)
				}
				if d.Reason == "" {
					t.Error("expected a rejection reason")
				}
				return
			}
			if d.Scope != tt.wantScope {
				t.Errorf("Scope = %+v, want %+v", d.Scope, tt.wantScope)
			}
		})
	}
}

func TestNewTitleFilter_Contradiction(t *testing.T) {
	tp := config.TitlePatterns{
		Include: []string{"data engineer", "Analyst"},
		Exclude: []string{"analyst"},
	}

	f, err := NewTitleFilter(tp, false, discardLogger())
	if err != nil {
		t.Fatalf("lenient mode: %v", err)
	}
	if ok, _ := f.Match("Data Analyst"); ok {
		t.Error("contradictory literal should fail closed (exclude wins)")
	}

	_, err = NewTitleFilter(tp, true, discardLogger())
	var fce *model.FilterConfigurationError
	if !errors.As(err, &fce) {
		t.Fatalf("strict mode err = %v, want FilterConfigurationError", err)
	}
}

func TestNewChain_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.PatternSet)
	}{
		{"empty include", func(ps *config.PatternSet) { ps.Title.Include = nil }},
		{"bad title regex", func(ps *config.PatternSet) { ps.Title.Exclude = []string{"re:("} }},
		{"no locations", func(ps *config.PatternSet) { ps.Location = config.LocationPatterns{} }},
		{"region with unknown city", func(ps *config.PatternSet) {
			ps.Location.Regions["uk"] = config.RegionPatterns{Patterns: []string{"uk"}, Cities: []string{"edi"}}
		}},
		{"bad agency regex", func(ps *config.PatternSet) { ps.Agency.Keywords = []string{"re:["} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := testPatterns()
			tt.mutate(ps)
			_, err := NewChain(model.SourceATSB, ps, false, discardLogger())
			var fce *model.FilterConfigurationError
			if !errors.As(err, &fce) {
				t.Fatalf("err = %v, want FilterConfigurationError", err)
			}
			if fce.Source != model.SourceATSB {
				t.Errorf("Source = %q, want ats-b", fce.Source)
			}
		})
	}

	if _, err := NewChain(model.SourceATSA, nil, false, discardLogger()); err == nil {
		t.Error("nil pattern set should be a configuration error")
	}
}

func TestLocationFilter_InclusiveCodes(t *testing.T) {
	f, err := NewLocationFilter(testPatterns().Location)
	if err != nil {
		t.Fatalf("NewLocationFilter: %v", err)
	}
	got := f.InclusiveCodes("lon")
	want := []string{"lon", "uk", RemoteCode}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("InclusiveCodes = %v, want %v", got, want)
	}
}
