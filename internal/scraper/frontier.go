package scraper

// frontier is a FIFO crawl queue with an exact visited set.
// A URL is queued at most once and fetched at most once.
type frontier struct {
	queue   []string
	visited map[string]bool
	queued  map[string]bool
}

func newFrontier(seed string) *frontier {
	f := &frontier{
		visited: make(map[string]bool),
		queued:  make(map[string]bool),
	}
	f.push(seed)
	return f
}

// push enqueues u unless it was already visited or queued.
func (f *frontier) push(u string) bool {
	if f.visited[u] || f.queued[u] {
		return false
	}
	f.queued[u] = true
	f.queue = append(f.queue, u)
	return true
}

// next dequeues the oldest unvisited URL and marks it visited.
func (f *frontier) next() (string, bool) {
	for len(f.queue) > 0 {
		u := f.queue[0]
		f.queue = f.queue[1:]
		if f.visited[u] {
			continue
		}
		f.visited[u] = true
		return u, true
	}
	return "", false
}

func (f *frontier) len() int {
	return len(f.queue)
}
