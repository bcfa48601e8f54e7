package media

import "sync"

// publishers tracks the published track SIDs of each remote identity.
type publishers struct {
	mu     sync.Mutex
	tracks map[string]map[string]struct{}
}

func newPublishers() *publishers {
	return &publishers{tracks: make(map[string]map[string]struct{})}
}

// add records a track and reports whether identity just started publishing.
func (p *publishers) add(identity, sid string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.tracks[identity]
	if !ok {
		set = make(map[string]struct{})
		p.tracks[identity] = set
	}
	set[sid] = struct{}{}
	return !ok
}

// remove drops a track and reports whether identity stopped publishing.
func (p *publishers) remove(identity, sid string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.tracks[identity]
	if !ok {
		return false
	}
	delete(set, sid)
	if len(set) > 0 {
		return false
	}
	delete(p.tracks, identity)
	return true
}

// drop forgets identity and reports whether it was publishing.
func (p *publishers) drop(identity string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tracks[identity]
	delete(p.tracks, identity)
	return ok
}

func (p *publishers) reset() {
	p.mu.Lock()
	p.tracks = make(map[string]map[string]struct{})
	p.mu.Unlock()
}
