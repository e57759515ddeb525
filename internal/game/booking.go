// internal/game/booking.go
package game

import (
	"sort"
	"strings"
	"time"

	"github.com/tambola-live/tambola-service/internal/models"
	"github.com/tambola-live/tambola-service/internal/store"
)

// checkPhoneSegment rejects phone numbers that cannot key the players index.
// Phones become dotted-path segments in store updates, so a '.' would split
// the key and corrupt the document.
func checkPhoneSegment(phone string) error {
	if strings.Contains(phone, ".") {
		return ValidationErrorf("phoneNumber must not contain '.'")
	}
	return nil
}

// createBooking books every requested ticket for one player atomically, or
// fails with a ConflictError without touching anything. Ticket layouts are
// untouched; only booking metadata changes.
func createBooking(s *models.GameSession, name, phone string, ticketIDs []string, ts time.Time) ([]store.Update, error) {
	if name == "" || phone == "" {
		return nil, ValidationErrorf("create_booking requires playerName and phoneNumber")
	}
	if err := checkPhoneSegment(phone); err != nil {
		return nil, err
	}
	if len(ticketIDs) == 0 {
		return nil, ValidationErrorf("create_booking requires at least one ticket id")
	}
	for _, id := range ticketIDs {
		entry, ok := s.ActiveTickets[id]
		if !ok {
			return nil, ConflictErrorf("ticket %s does not exist", id)
		}
		if entry.Booking != nil {
			return nil, ConflictErrorf("ticket %s is already booked", id)
		}
	}

	booking := models.Booking{PlayerName: name, PhoneNumber: phone, Timestamp: ts}
	updates := make([]store.Update, 0, len(ticketIDs)+1)
	for _, id := range ticketIDs {
		updates = append(updates, store.Set("activeTickets."+id+".booking", booking))
	}
	updates = append(updates, store.Set("players."+phone, mergedPlayer(s, name, phone, ticketIDs)))
	return updates, nil
}

// updateBooking changes player metadata on already-booked tickets. Ticket
// numbers are never touched.
func updateBooking(s *models.GameSession, name, phone string, ticketIDs []string) ([]store.Update, error) {
	if name == "" || phone == "" {
		return nil, ValidationErrorf("update_booking requires playerName and phoneNumber")
	}
	if err := checkPhoneSegment(phone); err != nil {
		return nil, err
	}
	if len(ticketIDs) == 0 {
		return nil, ValidationErrorf("update_booking requires at least one ticket id")
	}
	var prior []*models.Booking
	for _, id := range ticketIDs {
		entry, ok := s.ActiveTickets[id]
		if !ok || entry.Booking == nil {
			return nil, ConflictErrorf("ticket %s has no booking", id)
		}
		prior = append(prior, entry.Booking)
	}

	updates := make([]store.Update, 0, len(ticketIDs)+2)
	for i, id := range ticketIDs {
		next := *prior[i]
		next.PlayerName = name
		next.PhoneNumber = phone
		updates = append(updates, store.Set("activeTickets."+id+".booking", next))
	}
	updates = append(updates, playerRemovals(s, ticketIDs, phone)...)
	updates = append(updates, store.Set("players."+phone, mergedPlayer(s, name, phone, ticketIDs)))
	return updates, nil
}

// cancelBooking returns tickets to the unbooked pool, preserving their
// number layout.
func cancelBooking(s *models.GameSession, ticketIDs []string) ([]store.Update, error) {
	if len(ticketIDs) == 0 {
		return nil, ValidationErrorf("cancel_booking requires at least one ticket id")
	}
	for _, id := range ticketIDs {
		entry, ok := s.ActiveTickets[id]
		if !ok || entry.Booking == nil {
			return nil, ConflictErrorf("ticket %s has no booking", id)
		}
	}
	updates := make([]store.Update, 0, len(ticketIDs)+1)
	for _, id := range ticketIDs {
		updates = append(updates, store.Del("activeTickets."+id+".booking"))
	}
	updates = append(updates, playerRemovals(s, ticketIDs, "")...)
	return updates, nil
}

// mergedPlayer builds the player entry for phone after ticketIDs move to it.
func mergedPlayer(s *models.GameSession, name, phone string, ticketIDs []string) models.Player {
	held := map[string]bool{}
	if p, ok := s.Players[phone]; ok {
		for _, id := range p.TicketIDs {
			held[id] = true
		}
	}
	for _, id := range ticketIDs {
		held[id] = true
	}
	ids := make([]string, 0, len(held))
	for id := range held {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return models.Player{Name: name, Phone: phone, TicketIDs: ids}
}

// playerRemovals drops ticketIDs from whichever players currently hold them
// (skipping keepPhone, which is about to be rewritten anyway), deleting
// players left with no tickets.
func playerRemovals(s *models.GameSession, ticketIDs []string, keepPhone string) []store.Update {
	removed := map[string]bool{}
	for _, id := range ticketIDs {
		removed[id] = true
	}

	var updates []store.Update
	for phone, p := range s.Players {
		if phone == keepPhone {
			continue
		}
		var rest []string
		for _, id := range p.TicketIDs {
			if !removed[id] {
				rest = append(rest, id)
			}
		}
		if len(rest) == len(p.TicketIDs) {
			continue
		}
		if len(rest) == 0 {
			updates = append(updates, store.Del("players."+phone))
		} else {
			updates = append(updates, store.Set("players."+phone, models.Player{Name: p.Name, Phone: p.Phone, TicketIDs: rest}))
		}
	}
	return updates
}
