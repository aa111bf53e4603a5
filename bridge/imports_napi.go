package bridge

// napiImports exposes the env's entry points. napi values live on the main
// context, so a worker calling one is proxied there.
func (b *Bridge) napiImports() []hostFunc {
	imps := b.env.Imports()
	out := make([]hostFunc, len(imps))
	for i, imp := range imps {
		out[i] = hostFunc{
			name:    imp.Name,
			params:  imp.Params,
			results: imp.Results,
			fn:      imp.Fn,
			proxied: true,
		}
	}
	return out
}
