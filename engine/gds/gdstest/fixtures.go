package gdstest

import "time"

// Millis returns the epoch milliseconds of January 1st of year as a float,
// the type validity bounds are stored with.
func Millis(year int) float64 {
	return float64(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli())
}

// Interval returns validity properties covering [from, to) in whole years.
func Interval(from, to int) map[string]any {
	return map[string]any{"tStart": Millis(from), "tEnd": Millis(to)}
}

// With merges extra properties into props and returns it.
func With(props map[string]any, kv ...any) map[string]any {
	for i := 0; i+1 < len(kv); i += 2 {
		props[kv[i].(string)] = kv[i+1]
	}
	return props
}

// SixNodes loads two isolated banks and four connected entities, all valid
// from 2000 to 2010, plus one imputed family tie between the two persons.
// Returned ids are in insertion order: bank1, bank2, company1, company2,
// person1, person2.
func SixNodes(s *Server) []int64 {
	ids := []int64{
		s.AddNode([]string{"Bank"}, With(Interval(2000, 2010), "Id", "bank1", "is_dead", 0.0)),
		s.AddNode([]string{"Bank"}, With(Interval(2000, 2010), "Id", "bank2", "is_dead", 1.0)),
		s.AddNode([]string{"Company"}, With(Interval(2000, 2010), "Id", "company1")),
		s.AddNode([]string{"Company"}, With(Interval(2000, 2010), "Id", "company2")),
		s.AddNode([]string{"Person"}, With(Interval(2000, 2010), "Id", "person1")),
		s.AddNode([]string{"Person"}, With(Interval(2000, 2010), "Id", "person2")),
	}
	s.AddRel(ids[4], ids[2], "OWNERSHIP", With(Interval(2000, 2010), "Id", "r1", "weight", 1.0))
	s.AddRel(ids[5], ids[3], "MANAGEMENT", With(Interval(2000, 2010), "Id", "r2", "weight", 0.5))
	s.AddRel(ids[2], ids[3], "OWNERSHIP", With(Interval(2000, 2010), "Id", "r3"))
	s.AddRel(ids[4], ids[5], "FAMILY", With(Interval(2000, 2010), "Id", "r4", "imputedFlag", 1.0))
	return ids
}
