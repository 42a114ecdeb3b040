package battle

import "math"

// Resolve adjudicates an attack against the defending snapshot in Input
// and returns the complete outcome.
//
// The attacker's own class mix decides which defense classes matter: each
// class's share of the attacker's raw strength weights both sides into a
// single scalar. An exactly equal comparison goes to the defender.
func Resolve(in Input) Outcome {
	out := Outcome{
		LoyaltyBefore: in.Loyalty,
		LoyaltyAfter:  in.Loyalty,
	}

	wall := in.WallBonus
	if wall < 1 {
		wall = 1
	}

	// Raw per-class strengths.
	var atk [classCount]float64
	for _, kind := range in.Attackers.kinds() {
		s := in.Stats[kind]
		atk[s.Class] += float64(s.Attack * in.Attackers[kind])
	}
	var def [classCount]float64
	addDefense := func(f Force) {
		for _, kind := range f.kinds() {
			s := in.Stats[kind]
			n := f[kind]
			for c := Class(0); c < classCount; c++ {
				def[c] += float64(s.defenseVs(c) * n)
			}
		}
	}
	addDefense(in.Garrison)
	for _, sg := range in.Supports {
		addDefense(sg.Units)
	}
	for c := Class(0); c < classCount; c++ {
		def[c] *= wall
	}

	totalAtk := atk[0] + atk[1] + atk[2]
	totalDef := def[0] + def[1] + def[2]

	if totalDef == 0 {
		// Nothing to fight: the attacker wins at full strength without
		// entering the ratio formula.
		out.Winner = AttackerWon
		out.Survival = 1
		out.AttackerStrength = totalAtk
		resolveAttackerWin(in, &out)
		return out
	}

	// Weight both sides by the attacker's class shares.
	var attEff, defEff float64
	if totalAtk > 0 {
		for c := Class(0); c < classCount; c++ {
			share := atk[c] / totalAtk
			attEff += share * atk[c]
			defEff += share * def[c]
		}
	} else {
		// No offensive power at all; the attack simply breaks.
		defEff = totalDef
	}
	out.AttackerStrength = attEff
	out.DefenderStrength = defEff

	if attEff > defEff {
		out.Winner = AttackerWon
		out.Survival, out.SurvivalClamped = survival(defEff, attEff)
		resolveAttackerWin(in, &out)
	} else {
		// Defender wins ties.
		out.Winner = DefenderWon
		out.Survival, out.SurvivalClamped = survival(attEff, defEff)
		resolveDefenderWin(in, &out)
	}
	return out
}

// survival computes the winning side's survival fraction:
// 1 - sqrt(loser/winner)/(winner/loser), which reduces to
// 1 - (loser/winner)^1.5. For winner >= loser >= 0 this lies in [0,1];
// the clamp only fires on numeric error and is reported to the caller.
func survival(loser, winner float64) (float64, bool) {
	if winner <= 0 {
		return 1, false
	}
	r := loser / winner
	s := 1 - math.Pow(r, 1.5)
	if s < 0 {
		return 0, true
	}
	if s > 1 {
		return 1, true
	}
	return s, false
}

func resolveAttackerWin(in Input, out *Outcome) {
	out.AttackerSurvivors = make(Force)
	out.AttackerLosses = make(Force)
	haulCap := 0
	for _, kind := range in.Attackers.kinds() {
		n := in.Attackers[kind]
		alive := int(math.Round(float64(n) * out.Survival))
		if alive > n {
			alive = n
		}
		if alive > 0 {
			out.AttackerSurvivors[kind] = alive
			haulCap += alive * in.Stats[kind].Haul
		}
		if n-alive > 0 {
			out.AttackerLosses[kind] = n - alive
		}
	}

	// On a successful siege the whole defense is annihilated.
	out.DefenderLosses = in.Garrison.Clone()
	out.SupportLosses = make([]SupportGroup, len(in.Supports))
	for i, sg := range in.Supports {
		out.SupportLosses[i] = SupportGroup{ID: sg.ID, Units: sg.Units.Clone()}
	}

	out.Haul = proRataHaul(in.Stock, float64(haulCap))
	applyLoyalty(in, out)
}

func resolveDefenderWin(in Input, out *Outcome) {
	// The whole attacking force dies; no return trip.
	out.AttackerLosses = in.Attackers.Clone()

	out.DefenderLosses = make(Force)
	for _, kind := range in.Garrison.kinds() {
		n := in.Garrison[kind]
		alive := int(math.Round(float64(n) * out.Survival))
		if alive > n {
			alive = n
		}
		if n-alive > 0 {
			out.DefenderLosses[kind] = n - alive
		}
	}

	out.SupportLosses = make([]SupportGroup, len(in.Supports))
	for i, sg := range in.Supports {
		losses := make(Force)
		remaining := make(Force)
		for _, kind := range sg.Units.kinds() {
			n := sg.Units[kind]
			alive := int(math.Round(float64(n) * out.Survival))
			if alive > n {
				alive = n
			}
			if n-alive > 0 {
				losses[kind] = n - alive
			}
			if alive > 0 {
				remaining[kind] = alive
			}
		}
		out.SupportLosses[i] = SupportGroup{ID: sg.ID, Units: losses}
		if !remaining.Empty() {
			out.SupportRemaining = append(out.SupportRemaining, SupportGroup{ID: sg.ID, Units: remaining})
		}
	}
}

// proRataHaul takes up to capacity resources from the stock, distributed
// across the three kinds by their share of the total.
func proRataHaul(stock Resources, capacity float64) Resources {
	if capacity <= 0 {
		return Resources{}
	}
	total := stock.Total()
	if total <= 0 {
		return Resources{}
	}
	if total <= capacity {
		return stock
	}
	frac := capacity / total
	return Resources{
		Wood: stock.Wood * frac,
		Clay: stock.Clay * frac,
		Iron: stock.Iron * frac,
	}
}

// applyLoyalty rolls loyalty damage for each surviving noble and, on
// conquest, consumes one noble from the survivors.
func applyLoyalty(in Input, out *Outcome) {
	nobles := 0
	nobleKinds := []string{}
	for _, kind := range out.AttackerSurvivors.kinds() {
		if in.Stats[kind].Noble {
			nobles += out.AttackerSurvivors[kind]
			nobleKinds = append(nobleKinds, kind)
		}
	}
	if nobles == 0 {
		return
	}

	loyalty := in.Loyalty
	for i := 0; i < nobles; i++ {
		loyalty -= float64(rollLoyaltyHit(in))
	}
	if loyalty > 0 {
		out.LoyaltyAfter = loyalty
		return
	}

	out.LoyaltyAfter = 0
	out.Conquered = true
	// Conquest costs one noble; nobleKinds is sorted, take the first
	// kind with survivors for determinism.
	for _, kind := range nobleKinds {
		if out.AttackerSurvivors[kind] > 0 {
			out.AttackerSurvivors[kind]--
			if out.AttackerSurvivors[kind] == 0 {
				delete(out.AttackerSurvivors, kind)
			}
			out.AttackerLosses[kind]++
			break
		}
	}
}

func rollLoyaltyHit(in Input) int {
	lo, hi := in.LoyaltyHitMin, in.LoyaltyHitMax
	if hi < lo {
		lo, hi = hi, lo
	}
	if hi == lo || in.Rand == nil {
		return lo
	}
	return lo + in.Rand.Intn(hi-lo+1)
}
