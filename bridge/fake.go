package bridge

// FakeEngine implements Engine for tests. Embed delegates to EmbedFunc when
// set and returns an empty payload otherwise.
type FakeEngine struct {
	EmbedFunc func(req *Request) ([]byte, error)
}

func (f *FakeEngine) Embed(req *Request) ([]byte, error) {
	if f.EmbedFunc != nil {
		return f.EmbedFunc(req)
	}
	return []byte{}, nil
}
