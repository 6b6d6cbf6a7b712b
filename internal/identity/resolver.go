// Package identity matches the sender of an inbound message to a contact,
// creating the contact on first contact.
package identity

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/zulandar/listingdesk/internal/apperr"
	"github.com/zulandar/listingdesk/internal/db"
	"github.com/zulandar/listingdesk/internal/inbound"
	"github.com/zulandar/listingdesk/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Contact tags applied on first contact.
const (
	TagNewLead      = "new-lead"
	TagSourcePrefix = "source-"
)

// Options configures a Resolver.
type Options struct {
	DefaultCountryCode string
	UnassignedAgentID  string
	Agents             []string
}

// Result is the outcome of resolving one message.
type Result struct {
	ContactID string
	Created   bool
	MatchedBy string // identifier kind that matched; empty when created
}

// Resolver matches senders against the ContactIdentifier index.
type Resolver struct {
	db     *gorm.DB
	opts   Options
	assign *RoundRobin

	beforeCreate func(ctx context.Context) // runs between a miss and the insert
}

// NewResolver creates a Resolver.
func NewResolver(db *gorm.DB, opts Options) *Resolver {
	if opts.UnassignedAgentID == "" {
		opts.UnassignedAgentID = "unassigned"
	}
	return &Resolver{
		db:     db,
		opts:   opts,
		assign: NewRoundRobin(opts.Agents, opts.UnassignedAgentID),
	}
}

// probe is one identifier to look up: a kind and the stored forms it may
// take. values[0] is the canonical form written on attach/create.
type probe struct {
	kind   string
	values []string
}

// Resolve returns the contact for msg's sender. Matching order is phone,
// then email, then social id; the first hit wins. On a miss a new contact
// is created together with its ContactChannels row and identifier index.
//
// Two concurrent first contacts from one sender race on the unique
// (kind, value) identifier index: the loser's transaction rolls back and
// resolution re-runs once, returning the winner's contact.
func (r *Resolver) Resolve(ctx context.Context, msg inbound.Message) (Result, error) {
	probes := r.probes(inbound.IdentityFor(msg))
	if len(probes) == 0 {
		return Result{}, fmt.Errorf("identity: resolve: %w", apperr.Invalid("sender", "no identity field present"))
	}

	res, err := r.match(ctx, probes)
	if err != nil {
		return Result{}, err
	}
	if res.ContactID != "" {
		r.attach(ctx, res.ContactID, probes)
		return res, nil
	}

	if r.beforeCreate != nil {
		r.beforeCreate(ctx)
	}
	id, err := r.create(ctx, msg, probes)
	if err == nil {
		return Result{ContactID: id, Created: true}, nil
	}
	if !db.IsUniqueViolation(err) {
		return Result{}, fmt.Errorf("identity: create contact: %w", err)
	}

	log.Printf("identity: concurrent first contact on %s, re-resolving", msg.Channel)
	res, err = r.match(ctx, probes)
	if err != nil {
		return Result{}, err
	}
	if res.ContactID == "" {
		return Result{}, fmt.Errorf("identity: identifier conflict without a matching contact")
	}
	r.attach(ctx, res.ContactID, probes)
	return res, nil
}

// probes orders the identity set for matching.
func (r *Resolver) probes(set inbound.IdentitySet) []probe {
	var out []probe
	for _, p := range set.Phones {
		if v := PhoneVariants(p, r.opts.DefaultCountryCode); len(v) > 0 {
			out = append(out, probe{kind: models.IdentifierPhone, values: v})
		}
	}
	for _, e := range set.Emails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			out = append(out, probe{kind: models.IdentifierEmail, values: []string{e}})
		}
	}
	kinds := make([]string, 0, len(set.Social))
	for k := range set.Social {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		if id := strings.TrimSpace(set.Social[k]); id != "" {
			out = append(out, probe{kind: k, values: []string{id}})
		}
	}
	return out
}

func (r *Resolver) match(ctx context.Context, probes []probe) (Result, error) {
	for _, p := range probes {
		var ident models.ContactIdentifier
		err := r.db.WithContext(ctx).
			Where("kind = ? AND value IN ?", p.kind, p.values).
			Order("id ASC").First(&ident).Error
		if db.IsNotFound(err) {
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("identity: match %s: %w", p.kind, err)
		}
		return Result{ContactID: ident.ContactID, MatchedBy: p.kind}, nil
	}
	return Result{}, nil
}

func (r *Resolver) create(ctx context.Context, msg inbound.Message, probes []probe) (string, error) {
	first, last := SplitName(msg.Sender.Name)
	contact := models.Contact{
		FirstName:       first,
		LastName:        last,
		Source:          msg.Channel.LeadSource(),
		Stage:           "new",
		Status:          "active",
		Tags:            datatypes.JSONSlice[string]{TagNewLead, TagSourcePrefix + string(msg.Channel)},
		AssignedAgentID: r.assign.Next(),
	}
	channels := models.ContactChannels{
		Emails: datatypes.JSONSlice[string]{},
		Phones: datatypes.JSONSlice[string]{},
	}
	for _, p := range probes {
		applyIdentifier(&channels, p.kind, p.values[0])
		switch {
		case p.kind == models.IdentifierPhone && contact.Phone == "":
			contact.Phone = p.values[0]
		case p.kind == models.IdentifierEmail && contact.Email == "":
			contact.Email = p.values[0]
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&contact).Error; err != nil {
			return err
		}
		channels.ContactID = contact.ID
		if err := tx.Create(&channels).Error; err != nil {
			return err
		}
		rows := identifierRows(contact.ID, probes)
		return tx.Create(&rows).Error
	})
	if err != nil {
		return "", err
	}
	log.Printf("identity: created contact %s from %s (agent %s)", contact.ID, msg.Channel, contact.AssignedAgentID)
	return contact.ID, nil
}

// attach records identifiers of probes not yet known for contactID.
// Identifiers already owned by another contact are left alone. Failures
// are logged; the match itself stands.
func (r *Resolver) attach(ctx context.Context, contactID string, probes []probe) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var added []models.ContactIdentifier
		for _, row := range identifierRows(contactID, probes) {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				added = append(added, row)
			}
		}
		if len(added) == 0 {
			return nil
		}
		var ch models.ContactChannels
		if err := tx.Where(models.ContactChannels{ContactID: contactID}).FirstOrCreate(&ch).Error; err != nil {
			return err
		}
		for _, a := range added {
			applyIdentifier(&ch, a.Kind, a.Value)
		}
		return tx.Save(&ch).Error
	})
	if err != nil {
		log.Printf("identity: attach identifiers to %s: %v", contactID, err)
	}
}

// identifierRows builds the canonical index rows for probes, deduplicated.
func identifierRows(contactID string, probes []probe) []models.ContactIdentifier {
	seen := map[string]bool{}
	var rows []models.ContactIdentifier
	for _, p := range probes {
		key := p.kind + "\x00" + p.values[0]
		if seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, models.ContactIdentifier{ContactID: contactID, Kind: p.kind, Value: p.values[0]})
	}
	return rows
}

// applyIdentifier adds one identifier to the ContactChannels row.
func applyIdentifier(ch *models.ContactChannels, kind, value string) {
	switch kind {
	case models.IdentifierPhone:
		if !contains(ch.Phones, value) {
			ch.Phones = append(ch.Phones, value)
		}
	case models.IdentifierEmail:
		if !contains(ch.Emails, value) {
			ch.Emails = append(ch.Emails, value)
		}
	case models.IdentifierInstagram:
		if ch.InstagramID == nil {
			ch.InstagramID = &value
		}
	case models.IdentifierFacebook:
		if ch.FacebookID == nil {
			ch.FacebookID = &value
		}
	case models.IdentifierWhatsApp:
		if ch.WhatsAppNumber == nil {
			ch.WhatsAppNumber = &value
		}
	}
}

// SplitName splits a sender display name into first and last name. The
// first token is the first name and the remainder the last name; either
// defaults to "Unknown".
func SplitName(name string) (first, last string) {
	fields := strings.Fields(name)
	if len(fields) == 0 || (len(fields) == 1 && fields[0] == inbound.DefaultSenderName) {
		return inbound.DefaultSenderName, inbound.DefaultSenderName
	}
	first = fields[0]
	last = strings.Join(fields[1:], " ")
	if last == "" {
		last = inbound.DefaultSenderName
	}
	return first, last
}
