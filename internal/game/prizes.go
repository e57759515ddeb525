// internal/game/prizes.go
package game

import (
	"sort"

	"github.com/tambola-live/tambola-service/internal/models"
)

// EvaluatePrizes re-checks every enabled prize type against the booked
// tickets and the current call history, returning the prizes newly won on
// this call. Awards already present in the winners map are never revisited,
// so each prize type is won exactly once (secondFullHouse fills its one
// additional slot). When several tickets qualify simultaneously the lowest
// numeric ticket id wins.
func EvaluatePrizes(s *models.GameSession) map[models.PrizeType][]string {
	called := make(map[int]bool, len(s.NumberSystem.CalledNumbers))
	for _, n := range s.NumberSystem.CalledNumbers {
		called[n] = true
	}
	booked := s.BookedTicketIDs()

	newly := make(map[models.PrizeType][]string)
	awarded := func(pt models.PrizeType) bool {
		return s.Awarded(pt) || len(newly[pt]) > 0
	}

	for _, pt := range s.Settings.EnabledPrizes() {
		if awarded(pt) {
			continue
		}
		switch pt {
		case models.PrizeHalfSheet, models.PrizeFullSheet:
			if ids := winningSheetUnit(s, pt, called); ids != nil {
				newly[pt] = ids
			}
		case models.PrizeSecondFullHouse:
			first := firstWinner(s, newly, models.PrizeFullHouse)
			if first == "" {
				break // needs an existing full house winner
			}
			for _, id := range booked {
				if id == first {
					continue
				}
				if coversAll(s.ActiveTickets[id].Ticket.Numbers(), called) {
					newly[pt] = []string{id}
					break
				}
			}
		default:
			for _, id := range booked {
				if ticketWins(&s.ActiveTickets[id].Ticket, pt, called) {
					newly[pt] = []string{id}
					break
				}
			}
		}
	}
	return newly
}

// ticketWins checks one ticket against one single-ticket prize pattern.
func ticketWins(t *models.Ticket, pt models.PrizeType, called map[int]bool) bool {
	switch pt {
	case models.PrizeQuickFive:
		hits := 0
		for _, n := range t.Numbers() {
			if called[n] {
				hits++
				if hits >= 5 {
					return true
				}
			}
		}
		return false
	case models.PrizeTopLine:
		return coversAll(t.Row(0), called)
	case models.PrizeMiddleLine:
		return coversAll(t.Row(1), called)
	case models.PrizeBottomLine:
		return coversAll(t.Row(2), called)
	case models.PrizeCorners:
		return coversAll(t.Corners(false), called)
	case models.PrizeStarCorners:
		return coversAll(t.Corners(true), called)
	case models.PrizeFullHouse:
		return coversAll(t.Numbers(), called)
	}
	return false
}

// winningSheetUnit scans sheet units in order (sheets ascending, first half
// before second). A unit wins when all its member tickets exist, are booked
// by the same player, and each independently covers a full house.
func winningSheetUnit(s *models.GameSession, pt models.PrizeType, called map[int]bool) []string {
	sheets := map[int]bool{}
	for _, e := range s.ActiveTickets {
		sheets[e.Ticket.SheetID] = true
	}
	ordered := make([]int, 0, len(sheets))
	for id := range sheets {
		ordered = append(ordered, id)
	}
	sort.Ints(ordered)

	for _, sheetID := range ordered {
		members := s.SheetTickets(sheetID)
		byPos := map[int]string{}
		for _, id := range members {
			byPos[s.ActiveTickets[id].Ticket.SheetPos] = id
		}
		var units [][]int
		if pt == models.PrizeFullSheet {
			units = [][]int{{0, 1, 2, 3, 4, 5}}
		} else {
			units = [][]int{{0, 1, 2}, {3, 4, 5}}
		}
		for _, positions := range units {
			unit := make([]string, 0, len(positions))
			for _, pos := range positions {
				if id, ok := byPos[pos]; ok {
					unit = append(unit, id)
				}
			}
			if len(unit) == len(positions) && sheetUnitWins(s, unit, called) {
				return unit
			}
		}
	}
	return nil
}

func sheetUnitWins(s *models.GameSession, ids []string, called map[int]bool) bool {
	phone := ""
	for _, id := range ids {
		entry := s.ActiveTickets[id]
		if entry.Booking == nil {
			return false
		}
		if phone == "" {
			phone = entry.Booking.PhoneNumber
		} else if entry.Booking.PhoneNumber != phone {
			return false
		}
		if !coversAll(entry.Ticket.Numbers(), called) {
			return false
		}
	}
	return true
}

func coversAll(nums []int, called map[int]bool) bool {
	for _, n := range nums {
		if !called[n] {
			return false
		}
	}
	return len(nums) > 0
}

// firstWinner returns the first recorded winner of pt, checking awards made
// earlier in this same evaluation pass before the stored map.
func firstWinner(s *models.GameSession, newly map[models.PrizeType][]string, pt models.PrizeType) string {
	if ids := s.GameState.Winners[pt]; len(ids) > 0 {
		return ids[0]
	}
	if ids := newly[pt]; len(ids) > 0 {
		return ids[0]
	}
	return ""
}
