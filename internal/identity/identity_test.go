package identity

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/zulandar/listingdesk/internal/apperr"
	"github.com/zulandar/listingdesk/internal/channel"
	"github.com/zulandar/listingdesk/internal/db"
	"github.com/zulandar/listingdesk/internal/inbound"
	"github.com/zulandar/listingdesk/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gdb
}

func newResolver(gdb *gorm.DB, agents ...string) *Resolver {
	return NewResolver(gdb, Options{DefaultCountryCode: "61", UnassignedAgentID: "unassigned", Agents: agents})
}

func smsFrom(phone, sid string) inbound.Message {
	return inbound.Message{
		Channel:    channel.SMS,
		Direction:  "inbound",
		Sender:     inbound.Sender{Phone: phone, Name: inbound.DefaultSenderName},
		ExternalID: sid,
		ReceivedAt: time.Now(),
	}
}

func emailFrom(addr, name string) inbound.Message {
	return inbound.Message{
		Channel:    channel.Email,
		Direction:  "inbound",
		Sender:     inbound.Sender{Email: addr, Name: name},
		ReceivedAt: time.Now(),
	}
}

func countContacts(t *testing.T, gdb *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := gdb.Model(&models.Contact{}).Count(&n).Error; err != nil {
		t.Fatalf("count contacts: %v", err)
	}
	return n
}

// --- phone canonicalisation ---

func TestCanonicalPhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"+61412345678", "+61412345678"},
		{"+61 412 345 678", "+61412345678"},
		{"0412345678", "+61412345678"},
		{"0412 345 678", "+61412345678"},
		{"0061412345678", "+61412345678"},
		{"61412345678", "+61412345678"},
		{"412345678", "+61412345678"},
		{"(02) 9000 0000", "+61290000000"},
		{"+1 (555) 010-0000", "+15550100000"},
		{"", ""},
		{"n/a", ""},
	}
	for _, tt := range tests {
		if got := CanonicalPhone(tt.in, "61"); got != tt.want {
			t.Errorf("CanonicalPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalPhone_DefaultRegion(t *testing.T) {
	tests := []struct {
		in, cc, want string
	}{
		{"07700 900123", "44", "+447700900123"},
		{"(415) 555-2671", "1", "+14155552671"},
		{"+61412345678", "999", "+61412345678"},
		{"412345678", "999", ""},
	}
	for _, tt := range tests {
		if got := CanonicalPhone(tt.in, tt.cc); got != tt.want {
			t.Errorf("CanonicalPhone(%q, %q) = %q, want %q", tt.in, tt.cc, got, tt.want)
		}
	}
}

func TestPhoneVariants(t *testing.T) {
	got := PhoneVariants("+61412345678", "61")
	want := []string{"+61412345678", "0412345678", "61412345678"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PhoneVariants = %v, want %v", got, want)
	}

	got = PhoneVariants("0412 345 678", "61")
	if got[0] != "+61412345678" || got[len(got)-1] != "0412 345 678" {
		t.Errorf("PhoneVariants(raw) = %v, want canonical first and raw last", got)
	}

	got = PhoneVariants("+447700900123", "44")
	want = []string{"+447700900123", "07700900123", "447700900123"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PhoneVariants(uk) = %v, want %v", got, want)
	}

	got = PhoneVariants("+447700900123", "61")
	want = []string{"+447700900123", "447700900123"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PhoneVariants(foreign) = %v, want no national form", got)
	}

	if PhoneVariants("", "61") != nil {
		t.Error("PhoneVariants(\"\") should be nil")
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in string
		first, last string
	}{
		{"", "Unknown", "Unknown"},
		{"Unknown", "Unknown", "Unknown"},
		{"Jane", "Jane", "Unknown"},
		{"Jane Citizen", "Jane", "Citizen"},
		{"  Mary Anne  van Dyke ", "Mary", "Anne van Dyke"},
	}
	for _, tt := range tests {
		first, last := SplitName(tt.in)
		if first != tt.first || last != tt.last {
			t.Errorf("SplitName(%q) = %q, %q; want %q, %q", tt.in, first, last, tt.first, tt.last)
		}
	}
}

func TestRoundRobin(t *testing.T) {
	rr := NewRoundRobin([]string{"a", "b"}, "unassigned")
	got := []string{rr.Next(), rr.Next(), rr.Next()}
	if !reflect.DeepEqual(got, []string{"a", "b", "a"}) {
		t.Errorf("rotation = %v", got)
	}
	if NewRoundRobin(nil, "unassigned").Next() != "unassigned" {
		t.Error("empty rotation should return fallback")
	}
}

// --- resolution ---

func TestResolve_CreatesContactFromEmail(t *testing.T) {
	gdb := openTestDB(t)
	r := newResolver(gdb)

	res, err := r.Resolve(context.Background(), emailFrom("New.Buyer@Example.com", "Sam Buyer"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Created || res.ContactID == "" {
		t.Fatalf("Result = %+v, want created", res)
	}

	var c models.Contact
	if err := gdb.First(&c, "id = ?", res.ContactID).Error; err != nil {
		t.Fatalf("load contact: %v", err)
	}
	if c.FirstName != "Sam" || c.LastName != "Buyer" {
		t.Errorf("names = %q %q", c.FirstName, c.LastName)
	}
	if c.Source != "email" {
		t.Errorf("Source = %q, want email", c.Source)
	}
	if !c.HasTag(TagNewLead) || !c.HasTag("source-email") {
		t.Errorf("Tags = %v", c.Tags)
	}
	if c.AssignedAgentID != "unassigned" {
		t.Errorf("AssignedAgentID = %q, want unassigned", c.AssignedAgentID)
	}

	var ch models.ContactChannels
	if err := gdb.First(&ch, "contact_id = ?", res.ContactID).Error; err != nil {
		t.Fatalf("load channels: %v", err)
	}
	if len(ch.Emails) != 1 || ch.Emails[0] != "new.buyer@example.com" {
		t.Errorf("Emails = %v, want lower-cased address", ch.Emails)
	}
	if countContacts(t, gdb) != 1 {
		t.Errorf("contacts = %d, want 1", countContacts(t, gdb))
	}
}

func TestResolve_PhoneTrunkPrefixMatchesInternational(t *testing.T) {
	gdb := openTestDB(t)
	r := newResolver(gdb)
	ctx := context.Background()

	first, err := r.Resolve(ctx, smsFrom("+61412345678", "SM1"))
	if err != nil {
		t.Fatalf("Resolve first: %v", err)
	}

	second, err := r.Resolve(ctx, smsFrom("0412345678", "SM2"))
	if err != nil {
		t.Fatalf("Resolve second: %v", err)
	}
	if second.Created {
		t.Error("second resolution should not create a contact")
	}
	if second.ContactID != first.ContactID {
		t.Errorf("ContactID = %q, want %q", second.ContactID, first.ContactID)
	}
	if second.MatchedBy != models.IdentifierPhone {
		t.Errorf("MatchedBy = %q, want phone", second.MatchedBy)
	}
	if countContacts(t, gdb) != 1 {
		t.Errorf("contacts = %d, want 1", countContacts(t, gdb))
	}
}

func TestResolve_MatchesLegacyNationalFormat(t *testing.T) {
	gdb := openTestDB(t)
	r := newResolver(gdb)

	c := models.Contact{FirstName: "Legacy", LastName: "Import", AssignedAgentID: "unassigned"}
	gdb.Create(&c)
	gdb.Create(&models.ContactIdentifier{ContactID: c.ID, Kind: models.IdentifierPhone, Value: "0412345678"})

	res, err := r.Resolve(context.Background(), smsFrom("+61412345678", "SM1"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ContactID != c.ID {
		t.Errorf("ContactID = %q, want %q", res.ContactID, c.ID)
	}
}

func TestResolve_PhoneBeatsEmail(t *testing.T) {
	gdb := openTestDB(t)
	r := newResolver(gdb)
	ctx := context.Background()

	byPhone, _ := r.Resolve(ctx, smsFrom("+61412345678", "SM1"))
	byEmail, _ := r.Resolve(ctx, emailFrom("jane@example.com", "Jane"))

	msg := inbound.Message{
		Channel: channel.REAEnquiry,
		Sender:  inbound.Sender{Email: "jane@example.com", Phone: "0412 345 678", Name: "Jane"},
	}
	res, err := r.Resolve(ctx, msg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ContactID != byPhone.ContactID {
		t.Errorf("ContactID = %q, want phone match %q (not email match %q)", res.ContactID, byPhone.ContactID, byEmail.ContactID)
	}
}

func TestResolve_AttachesNewIdentifiers(t *testing.T) {
	gdb := openTestDB(t)
	r := newResolver(gdb)
	ctx := context.Background()

	created, _ := r.Resolve(ctx, emailFrom("jane@example.com", "Jane"))

	msg := inbound.Message{
		Channel: channel.DomainEnquiry,
		Sender:  inbound.Sender{Email: "JANE@example.com", Phone: "0412345678", Name: "Jane"},
	}
	res, err := r.Resolve(ctx, msg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ContactID != created.ContactID || res.MatchedBy != models.IdentifierEmail {
		t.Fatalf("Result = %+v", res)
	}

	var ch models.ContactChannels
	gdb.First(&ch, "contact_id = ?", created.ContactID)
	if len(ch.Phones) != 1 || ch.Phones[0] != "+61412345678" {
		t.Errorf("Phones = %v, want attached canonical phone", ch.Phones)
	}

	// The attached phone now resolves directly.
	again, _ := r.Resolve(ctx, smsFrom("+61412345678", "SM9"))
	if again.ContactID != created.ContactID || again.MatchedBy != models.IdentifierPhone {
		t.Errorf("phone resolution = %+v", again)
	}
}

func TestResolve_SocialID(t *testing.T) {
	gdb := openTestDB(t)
	r := newResolver(gdb)
	ctx := context.Background()

	msg := inbound.Message{Channel: channel.InstagramDM, Sender: inbound.Sender{SocialID: "ig-42", Name: "Unknown"}}
	first, err := r.Resolve(ctx, msg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	var ch models.ContactChannels
	gdb.First(&ch, "contact_id = ?", first.ContactID)
	if ch.InstagramID == nil || *ch.InstagramID != "ig-42" {
		t.Errorf("InstagramID = %v", ch.InstagramID)
	}

	second, _ := r.Resolve(ctx, msg)
	if second.ContactID != first.ContactID || second.MatchedBy != models.IdentifierInstagram {
		t.Errorf("second = %+v", second)
	}

	// The same id on another surface is a different identity.
	fb := inbound.Message{Channel: channel.FacebookMessenger, Sender: inbound.Sender{SocialID: "ig-42"}}
	third, _ := r.Resolve(ctx, fb)
	if !third.Created {
		t.Error("facebook id should not match an instagram id")
	}
}

func TestResolve_RoundRobinAssignment(t *testing.T) {
	gdb := openTestDB(t)
	r := newResolver(gdb, "agent-a", "agent-b")
	ctx := context.Background()

	a, _ := r.Resolve(ctx, emailFrom("one@example.com", ""))
	b, _ := r.Resolve(ctx, emailFrom("two@example.com", ""))

	var ca, cb models.Contact
	gdb.First(&ca, "id = ?", a.ContactID)
	gdb.First(&cb, "id = ?", b.ContactID)
	if ca.AssignedAgentID != "agent-a" || cb.AssignedAgentID != "agent-b" {
		t.Errorf("agents = %q, %q", ca.AssignedAgentID, cb.AssignedAgentID)
	}
}

func TestResolve_NoIdentity(t *testing.T) {
	r := newResolver(openTestDB(t))
	_, err := r.Resolve(context.Background(), inbound.Message{Channel: channel.SMS})
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestResolve_ConcurrentFirstContactReResolves(t *testing.T) {
	gdb := openTestDB(t)
	r := newResolver(gdb)

	var winner models.Contact
	r.beforeCreate = func(ctx context.Context) {
		winner = models.Contact{FirstName: "Other", LastName: "Request", AssignedAgentID: "unassigned"}
		if err := gdb.Create(&winner).Error; err != nil {
			t.Fatalf("create winner: %v", err)
		}
		ident := models.ContactIdentifier{ContactID: winner.ID, Kind: models.IdentifierPhone, Value: "+61412345678"}
		if err := gdb.Create(&ident).Error; err != nil {
			t.Fatalf("create winner identifier: %v", err)
		}
	}

	res, err := r.Resolve(context.Background(), smsFrom("+61412345678", "SM1"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Created {
		t.Error("losing request should not report a created contact")
	}
	if res.ContactID != winner.ID {
		t.Errorf("ContactID = %q, want winner %q", res.ContactID, winner.ID)
	}
	if n := countContacts(t, gdb); n != 1 {
		t.Errorf("contacts = %d, want 1 (loser rolled back)", n)
	}
}
