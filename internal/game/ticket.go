// internal/game/ticket.go
package game

import (
	"math/rand"
	"sort"
	"strconv"

	"github.com/tambola-live/tambola-service/internal/models"
)

// MaxTicketSets is the number of distinct catalogs available to a host.
const MaxTicketSets = 10

// MaxTicketsPerSession bounds how many tickets one session may generate.
const MaxTicketsPerSession = 120

// columnPool returns the numbers belonging to grid column c:
// col 0 holds 1-9, cols 1-7 hold their decade, col 8 holds 80-90.
func columnPool(c int) []int {
	lo, hi := c*10, c*10+9
	if c == 0 {
		lo = 1
	}
	if c == 8 {
		hi = 90
	}
	pool := make([]int, 0, hi-lo+1)
	for n := lo; n <= hi; n++ {
		pool = append(pool, n)
	}
	return pool
}

// GenerateTickets produces maxTickets tickets from catalog set setIndex.
// Layouts are reproducible for a given (set, count) pair: the catalog is a
// deterministic sequence of 6-ticket sheets driven by a PRNG seeded from the
// set index alone, so the same set always yields the same ticket prefix.
// Ticket ids are "1".."N".
func GenerateTickets(setIndex, maxTickets int) map[string]*models.TicketEntry {
	rng := rand.New(rand.NewSource(catalogSeed(setIndex)))
	tickets := make(map[string]*models.TicketEntry, maxTickets)

	id := 1
	for sheet := 0; id <= maxTickets; sheet++ {
		grids := generateSheet(rng)
		for pos := 0; pos < 6 && id <= maxTickets; pos++ {
			t := models.Ticket{
				ID:       strconv.Itoa(id),
				SheetID:  sheet + 1,
				SheetPos: pos,
				Grid:     grids[pos],
			}
			tickets[t.ID] = &models.TicketEntry{Ticket: t}
			id++
		}
	}
	return tickets
}

func catalogSeed(setIndex int) int64 {
	// Fixed multiplier keeps distinct sets on distant PRNG streams.
	return int64(setIndex) * 0x9E3779B9
}

// generateSheet builds one full sheet: 6 tickets that together cover every
// number 1-90 exactly once, each ticket a valid 3x9 grid with 5 numbers per
// row and ascending numbers within each column.
func generateSheet(rng *rand.Rand) [6][3][9]int {
	counts := sheetColumnCounts(rng)

	// Deal the column pools across the sheet's tickets.
	dealt := [6][9][]int{}
	for c := 0; c < 9; c++ {
		pool := columnPool(c)
		rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		at := 0
		for t := 0; t < 6; t++ {
			k := counts[t][c]
			nums := make([]int, k)
			copy(nums, pool[at:at+k])
			sort.Ints(nums)
			dealt[t][c] = nums
			at += k
		}
	}

	var grids [6][3][9]int
	for t := 0; t < 6; t++ {
		rows := placeRows(counts[t])
		for c := 0; c < 9; c++ {
			for i, r := range rows[c] {
				grids[t][r][c] = dealt[t][c][i]
			}
		}
	}
	return grids
}

// sheetColumnCounts decides how many numbers each ticket takes from each
// column. Every ticket-column starts at 1; the 36 leftover numbers are dealt
// 6 per ticket with at most 2 extras per ticket-column, so every count lands
// in 1..3 and each ticket totals exactly 15.
func sheetColumnCounts(rng *rand.Rand) [6][9]int {
	extras := [9]int{3, 4, 4, 4, 4, 4, 4, 4, 5} // pool size minus the 6 base slots

	tokens := make([]int, 0, 36)
	for c, e := range extras {
		for i := 0; i < e; i++ {
			tokens = append(tokens, c)
		}
	}

	for {
		rng.Shuffle(len(tokens), func(i, j int) { tokens[i], tokens[j] = tokens[j], tokens[i] })

		var counts [6][9]int
		ok := true
		for t := 0; t < 6 && ok; t++ {
			for _, c := range tokens[t*6 : t*6+6] {
				counts[t][c]++
				if counts[t][c] > 2 {
					ok = false
					break
				}
			}
		}
		if !ok {
			continue
		}
		for t := 0; t < 6; t++ {
			for c := 0; c < 9; c++ {
				counts[t][c]++
			}
		}
		return counts
	}
}

// placeRows assigns each column's numbers to rows so that every row ends up
// with exactly 5 numbers. Columns are processed largest-first; each takes the
// rows with the most remaining capacity, which always completes for counts
// summing to 15 with a per-column cap of 3.
func placeRows(counts [9]int) [9][]int {
	order := make([]int, 9)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })

	need := [3]int{5, 5, 5}
	var rows [9][]int
	for _, c := range order {
		k := counts[c]
		picked := pickRows(need, k)
		for _, r := range picked {
			need[r]--
		}
		sort.Ints(picked)
		rows[c] = picked
	}
	return rows
}

// pickRows returns the k rows with the largest remaining need, lowest row
// index first on ties.
func pickRows(need [3]int, k int) []int {
	idx := []int{0, 1, 2}
	sort.SliceStable(idx, func(i, j int) bool { return need[idx[i]] > need[idx[j]] })
	return append([]int(nil), idx[:k]...)
}
