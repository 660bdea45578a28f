package scenario

import "testing"

func TestVADForScenarioKeywords(t *testing.T) {
	cases := []struct {
		name      string
		scenario  string
		eagerness string
	}{
		{"therapy keyword", "therapy_session", "low"},
		{"interview keyword", "job_interview", "low"},
		{"emergency keyword", "sister_emergency", "high"},
		{"support keyword", "tech_support", "high"},
		{"no keyword", "yacht_party", "auto"},
		{"empty name", "", "auto"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := VADForScenario(tc.scenario)
			if p.Mode != VADSemantic {
				t.Fatalf("Mode = %q, want semantic_vad", p.Mode)
			}
			if p.Eagerness != tc.eagerness {
				t.Fatalf("Eagerness = %q, want %q", p.Eagerness, tc.eagerness)
			}
		})
	}
}

func TestServerVADDefaults(t *testing.T) {
	p := ServerVAD()
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if p.Threshold != 0.5 || p.PrefixPaddingMS != 300 || p.SilenceDurationMS != 700 {
		t.Fatalf("unexpected server_vad defaults: %+v", p)
	}
}

func TestVADValidateRejectsOutOfRange(t *testing.T) {
	p := ServerVAD()
	p.SilenceDurationMS = 50
	if err := p.Validate(); err == nil {
		t.Fatalf("Validate() should reject silence_duration_ms below 100")
	}

	p = ServerVAD()
	p.Threshold = 1.5
	if err := p.Validate(); err == nil {
		t.Fatalf("Validate() should reject threshold above 1")
	}

	p = SemanticVAD("frantic")
	if err := p.Validate(); err == nil {
		t.Fatalf("Validate() should reject unknown eagerness")
	}

	p = VADPolicy{Mode: "hybrid_vad"}
	if err := p.Validate(); err == nil {
		t.Fatalf("Validate() should reject unknown mode")
	}
}

func TestTurnDetectionPayloadShape(t *testing.T) {
	td := ServerVAD().TurnDetection()
	if td["type"] != VADServer {
		t.Fatalf("type = %v, want server_vad", td["type"])
	}
	if td["interrupt_response"] != true || td["create_response"] != true {
		t.Fatalf("response flags missing: %v", td)
	}
	if _, ok := td["eagerness"]; ok {
		t.Fatalf("server_vad payload must not carry eagerness")
	}

	td = SemanticVAD("auto").TurnDetection()
	if td["eagerness"] != "auto" {
		t.Fatalf("eagerness = %v, want auto", td["eagerness"])
	}
	if _, ok := td["threshold"]; ok {
		t.Fatalf("semantic_vad payload must not carry threshold")
	}
}
