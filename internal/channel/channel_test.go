package channel

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Channel
		wantErr bool
	}{
		{"sms", SMS, false},
		{" Email ", Email, false},
		{"INSTAGRAM_DM", InstagramDM, false},
		{"portal_notification", PortalNotification, false},
		{"telegram", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAll_ClosedSet(t *testing.T) {
	all := All()
	if len(all) != 11 {
		t.Fatalf("len(All()) = %d, want 11", len(all))
	}
	seen := map[Channel]bool{}
	for _, c := range all {
		if !c.Valid() {
			t.Errorf("%q not valid", c)
		}
		if seen[c] {
			t.Errorf("%q listed twice", c)
		}
		seen[c] = true
		if c.Label() == "" || c.ActivityType() == "" || c.LeadSource() == "" {
			t.Errorf("%q missing table entry", c)
		}
	}
}

func TestLabel(t *testing.T) {
	if got := SMS.Label(); got != "SMS" {
		t.Errorf("SMS.Label() = %q, want SMS", got)
	}
	if got := Channel("bogus").Label(); got != "bogus" {
		t.Errorf("unknown Label() = %q, want bogus", got)
	}
}

func TestSendable(t *testing.T) {
	sendable := map[Channel]bool{
		Email: true, SMS: true, WhatsApp: true, InstagramDM: true,
		FacebookMessenger: true, DomainEnquiry: true, REAEnquiry: true,
	}
	for _, c := range All() {
		if got := c.Sendable(); got != sendable[c] {
			t.Errorf("%q.Sendable() = %v, want %v", c, got, sendable[c])
		}
	}
}

func TestSocialKind(t *testing.T) {
	tests := map[Channel]string{
		InstagramDM:       "instagram",
		FacebookMessenger: "facebook",
		WhatsApp:          "whatsapp",
		SMS:               "",
		Email:             "",
	}
	for c, want := range tests {
		if got := c.SocialKind(); got != want {
			t.Errorf("%q.SocialKind() = %q, want %q", c, got, want)
		}
	}
}

func TestLeadSource(t *testing.T) {
	if got := REAEnquiry.LeadSource(); got != "realestate.com.au" {
		t.Errorf("REAEnquiry.LeadSource() = %q", got)
	}
	if got := Channel("nope").LeadSource(); got != "other" {
		t.Errorf("unknown LeadSource() = %q, want other", got)
	}
}
