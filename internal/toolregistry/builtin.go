package toolregistry

// NewBuiltin returns a Registry with all eleven agent tools registered.
func NewBuiltin() *Registry {
	r := New()
	r.Register(ReadContext)
	r.Register(WriteContext)
	r.Register(RemoveContext)
	r.Register(ManageTodos)
	r.Register(UpdateUserProfile)
	r.Register(SaveToPortfolio)
	r.Register(RemoveFromPortfolio)
	r.Register(SwitchActiveProperty)
	r.Register(SearchPortfolio)
	r.Register(TriggerPropertyAnalysis)
	r.Register(RecalculateCosts)
	return r
}
