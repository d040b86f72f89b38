package reservation

// Match returns the offers describing the same departure as c, in result order.
// Equality is on train id, departure time and run date.
func Match(c *Candidate, offers []Offer) []Offer {
	var out []Offer
	for _, o := range offers {
		if o.TrainID == c.trainID && o.DepartureTime == c.depTime && o.RunDate == c.runDate {
			out = append(out, o)
		}
	}
	return out
}

// ChooseOffer applies the tie-break: the first match in result order wins.
// ambiguous reports that more than one row matched.
func ChooseOffer(c *Candidate, offers []Offer) (offer Offer, ok, ambiguous bool) {
	m := Match(c, offers)
	if len(m) == 0 {
		return Offer{}, false, false
	}
	return m[0], true, len(m) > 1
}
