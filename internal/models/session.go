// internal/models/session.go
package models

import (
	"sort"
	"strconv"
	"time"
)

// Phase identifies where a game session is in its lifecycle. The numeric
// values are part of the stored document format.
type Phase int

const (
	PhaseSetup     Phase = 1
	PhaseBooking   Phase = 2
	PhasePlaying   Phase = 3
	PhaseCompleted Phase = 4
)

func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseBooking:
		return "booking"
	case PhasePlaying:
		return "playing"
	case PhaseCompleted:
		return "completed"
	}
	return "unknown"
}

// GameStatus reflects whether the number caller is running or paused.
type GameStatus string

const (
	StatusActive GameStatus = "active"
	StatusPaused GameStatus = "paused"
)

// PrizeType names one winning pattern.
type PrizeType string

const (
	PrizeQuickFive       PrizeType = "quickFive"
	PrizeTopLine         PrizeType = "topLine"
	PrizeMiddleLine      PrizeType = "middleLine"
	PrizeBottomLine      PrizeType = "bottomLine"
	PrizeCorners         PrizeType = "corners"
	PrizeStarCorners     PrizeType = "starCorners"
	PrizeHalfSheet       PrizeType = "halfSheet"
	PrizeFullSheet       PrizeType = "fullSheet"
	PrizeFullHouse       PrizeType = "fullHouse"
	PrizeSecondFullHouse PrizeType = "secondFullHouse"
)

// AllPrizeTypes lists every prize flag in evaluation order. Line prizes come
// before house prizes so a single call that completes several patterns awards
// them in a stable order.
var AllPrizeTypes = []PrizeType{
	PrizeQuickFive,
	PrizeTopLine,
	PrizeMiddleLine,
	PrizeBottomLine,
	PrizeCorners,
	PrizeStarCorners,
	PrizeHalfSheet,
	PrizeFullSheet,
	PrizeFullHouse,
	PrizeSecondFullHouse,
}

// Settings holds the host-configured rules for one session. Immutable once
// the Playing phase starts, except CallDelaySeconds and SoundEnabled.
type Settings struct {
	MaxTickets        int                `json:"maxTickets"`
	SelectedTicketSet int                `json:"selectedTicketSet"`
	CallDelaySeconds  int                `json:"callDelaySeconds"`
	HostPhone         string             `json:"hostPhone,omitempty"`
	SoundEnabled      bool               `json:"soundEnabled"`
	Prizes            map[PrizeType]bool `json:"prizes"`
}

// EnabledPrizes returns the enabled prize types in evaluation order.
func (s Settings) EnabledPrizes() []PrizeType {
	var enabled []PrizeType
	for _, pt := range AllPrizeTypes {
		if s.Prizes[pt] {
			enabled = append(enabled, pt)
		}
	}
	return enabled
}

// Ticket is a fixed 3x9 grid holding 15 numbers (5 per row). A zero cell is
// blank. The layout never changes after generation.
type Ticket struct {
	ID       string    `json:"id"`
	SheetID  int       `json:"sheetId"`
	SheetPos int       `json:"sheetPos"` // 0..5 within the sheet
	Grid     [3][9]int `json:"grid"`
}

// Numbers returns the 15 numbers on the ticket.
func (t *Ticket) Numbers() []int {
	nums := make([]int, 0, 15)
	for r := 0; r < 3; r++ {
		for c := 0; c < 9; c++ {
			if t.Grid[r][c] != 0 {
				nums = append(nums, t.Grid[r][c])
			}
		}
	}
	return nums
}

// Row returns the 5 numbers of the given row (0=top, 1=middle, 2=bottom).
func (t *Ticket) Row(row int) []int {
	nums := make([]int, 0, 5)
	for c := 0; c < 9; c++ {
		if t.Grid[row][c] != 0 {
			nums = append(nums, t.Grid[row][c])
		}
	}
	return nums
}

// Corners returns the four corner numbers: first and last of the top and
// bottom rows. With star=true the middle number of the middle row is included
// as a fifth position.
func (t *Ticket) Corners(star bool) []int {
	top := t.Row(0)
	bottom := t.Row(2)
	corners := []int{top[0], top[len(top)-1], bottom[0], bottom[len(bottom)-1]}
	if star {
		mid := t.Row(1)
		corners = append(corners, mid[len(mid)/2])
	}
	return corners
}

// Booking records who holds a ticket. At most one booking per ticket.
type Booking struct {
	PlayerName  string    `json:"playerName"`
	PhoneNumber string    `json:"phoneNumber"`
	Timestamp   time.Time `json:"timestamp"`
}

// TicketEntry pairs a generated ticket with its (optional) booking.
type TicketEntry struct {
	Ticket  Ticket   `json:"ticket"`
	Booking *Booking `json:"booking,omitempty"`
}

// Player aggregates the tickets held under one phone number.
type Player struct {
	Name      string   `json:"name"`
	Phone     string   `json:"phone"`
	TicketIDs []string `json:"ticketIds"`
}

// NumberSystem tracks the call history for a session.
type NumberSystem struct {
	CalledNumbers    []int `json:"calledNumbers"`
	CurrentNumber    *int  `json:"currentNumber"`
	CallDelaySeconds int   `json:"callDelaySeconds"`
}

// Called reports whether n has already been drawn.
func (ns *NumberSystem) Called(n int) bool {
	for _, c := range ns.CalledNumbers {
		if c == n {
			return true
		}
	}
	return false
}

// Remaining returns the undrawn numbers in ascending order.
func (ns *NumberSystem) Remaining() []int {
	called := make(map[int]bool, len(ns.CalledNumbers))
	for _, c := range ns.CalledNumbers {
		called[c] = true
	}
	var rem []int
	for n := 1; n <= 90; n++ {
		if !called[n] {
			rem = append(rem, n)
		}
	}
	return rem
}

// GameState holds the phase, caller status and the append-only winners map.
type GameState struct {
	Phase   Phase                  `json:"phase"`
	Status  GameStatus             `json:"status"`
	Winners map[PrizeType][]string `json:"winners"`
}

// GameSession is the authoritative per-host document. All mutation goes
// through commands; consumers treat snapshots of it as read-only.
type GameSession struct {
	ID            string                  `json:"id"`
	HostID        string                  `json:"hostId"`
	Settings      Settings                `json:"settings"`
	GameState     GameState               `json:"gameState"`
	NumberSystem  NumberSystem            `json:"numberSystem"`
	ActiveTickets map[string]*TicketEntry `json:"activeTickets"`
	Players       map[string]*Player      `json:"players,omitempty"`
	StartTime     *time.Time              `json:"startTime,omitempty"`
}

// Awarded reports whether a prize type holds at least one winning entry.
func (s *GameSession) Awarded(pt PrizeType) bool {
	return len(s.GameState.Winners[pt]) > 0
}

// AllPrizesWon is true iff every enabled prize type holds at least one
// winner. Derived, never stored.
func (s *GameSession) AllPrizesWon() bool {
	enabled := s.Settings.EnabledPrizes()
	if len(enabled) == 0 {
		return false
	}
	for _, pt := range enabled {
		if !s.Awarded(pt) {
			return false
		}
	}
	return true
}

// CallingDone is true once calling can never proceed again: either the full
// 1..90 range is exhausted or every enabled prize has been won.
func (s *GameSession) CallingDone() bool {
	return len(s.NumberSystem.CalledNumbers) >= 90 || s.AllPrizesWon()
}

// BookingCount returns the number of booked tickets.
func (s *GameSession) BookingCount() int {
	n := 0
	for _, e := range s.ActiveTickets {
		if e.Booking != nil {
			n++
		}
	}
	return n
}

// BookedTicketIDs returns the booked ticket ids sorted by numeric id.
func (s *GameSession) BookedTicketIDs() []string {
	var ids []string
	for id, e := range s.ActiveTickets {
		if e.Booking != nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.Atoi(ids[i])
		b, _ := strconv.Atoi(ids[j])
		return a < b
	})
	return ids
}

// SheetTickets returns the ticket ids belonging to the given sheet, ordered
// by position within the sheet.
func (s *GameSession) SheetTickets(sheetID int) []string {
	ids := make([]string, 6)
	found := 0
	for id, e := range s.ActiveTickets {
		if e.Ticket.SheetID == sheetID && e.Ticket.SheetPos < 6 {
			ids[e.Ticket.SheetPos] = id
			found++
		}
	}
	if found == 0 {
		return nil
	}
	out := make([]string, 0, found)
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
