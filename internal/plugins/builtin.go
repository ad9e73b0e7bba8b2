package plugins

import "strings"

// Builtin returns a registry holding the stock filters and actions.
func Builtin() *Registry {
	r := NewRegistry()

	r.RegisterFilter("EnergyDepositMinimumCut", "rejects steps depositing no more than Cut",
		func(name string) Filter {
			return &energyCut{base: newBase("EnergyDepositMinimumCut", name,
				Property{Name: "Cut", Kind: KindEnergy, Default: 0.0, Help: "minimum deposit (MeV unless a unit is given)"})}
		})
	r.RegisterFilter("GeantinoRejectFilter", "rejects geantinos and charged geantinos",
		func(name string) Filter {
			return &geantinoReject{base: newBase("GeantinoRejectFilter", name)}
		})
	r.RegisterFilter("ParticleSelectFilter", "accepts only the named particle",
		func(name string) Filter {
			return &particleFilter{base: newBase("ParticleSelectFilter", name,
				Property{Name: "particle", Kind: KindString, Default: "", Help: "particle name"}), keep: true}
		})
	r.RegisterFilter("ParticleRejectFilter", "rejects the named particle",
		func(name string) Filter {
			return &particleFilter{base: newBase("ParticleRejectFilter", name,
				Property{Name: "particle", Kind: KindString, Default: "", Help: "particle name"})}
		})

	trackerProps := []Property{
		{Name: "HitCreationMode", Kind: KindInt, Default: 1, Help: "1 simple, 2 detailed"},
	}
	weightedProps := []Property{
		{Name: "HitPositionCombination", Kind: KindInt, Default: 2, Help: "1 pre-step, 2 weighted mean, 3 post-step"},
		{Name: "CollectSingleDeposits", Kind: KindBool, Default: true, Help: "one hit per deposit"},
		{Name: "MaxDistance", Kind: KindFloat, Default: 0.0, Help: "merge distance in mm"},
	}
	caloProps := []Property{
		{Name: "HitCreationMode", Kind: KindInt, Default: 1, Help: "1 simple, 2 detailed"},
		{Name: "Birks", Kind: KindFloat, Default: 0.0, Help: "Birks constant (scintillators)"},
	}

	registerAction := func(typ, help, hitKind string, props []Property) {
		r.RegisterAction(typ, help, func(name string) Action {
			return &sensitiveAction{base: newBase(typ, name, props...), hitKind: hitKind}
		})
	}
	registerAction("Geant4TrackerAction", "one tracker hit per step", "tracker", trackerProps)
	registerAction("Geant4TrackerWeightedAction", "energy-weighted tracker hits", "tracker", weightedProps)
	registerAction("Geant4CalorimeterAction", "calorimeter cell hits", "calorimeter", caloProps)
	registerAction("Geant4ScintillatorCalorimeterAction", "scintillator calorimeter hits", "calorimeter", caloProps)
	registerAction("Geant4OpticalTrackerAction", "optical photon hits", "tracker", trackerProps)
	registerAction("Geant4VoidSensitiveAction", "records nothing", "none", nil)

	return r
}

type base struct {
	Properties
	typ  string
	name string
}

func newBase(typ, name string, decl ...Property) base {
	return base{Properties: newProperties(typ+"/"+name, decl...), typ: typ, name: name}
}

func (b *base) Type() string { return b.typ }
func (b *base) Name() string { return b.name }

type energyCut struct{ base }

func (f *energyCut) Accept(step Step) bool {
	return step.EnergyDeposit > f.float("Cut")
}

type geantinoReject struct{ base }

func (f *geantinoReject) Accept(step Step) bool {
	p := strings.ToLower(step.Particle)
	if p == "geantino" || p == "chargedgeantino" {
		return false
	}
	return step.PDG != 0 || p != ""
}

type particleFilter struct {
	base
	keep bool
}

func (f *particleFilter) Accept(step Step) bool {
	match := strings.EqualFold(step.Particle, f.str("particle"))
	return match == f.keep
}

type sensitiveAction struct {
	base
	hitKind string
}

func (a *sensitiveAction) HitKind() string { return a.hitKind }
