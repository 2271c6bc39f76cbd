package graph

// shortestPath runs a breadth-first search over the adjacency map and
// returns the first path from start to end with at most maxDepth edges,
// or nil if none exists. Adjacency lists must be sorted ascending; the
// explicit worklist keeps stack depth flat on large graphs.
func shortestPath(adjacency map[string][]string, start, end string, maxDepth int) []string {
	if maxDepth < 0 {
		return nil
	}
	if _, ok := adjacency[start]; !ok {
		return nil
	}
	if start == end {
		return []string{start}
	}
	if _, ok := adjacency[end]; !ok {
		return nil
	}

	type item struct {
		node string
		path []string
	}

	queue := []item{{node: start, path: []string{start}}}
	visited := map[string]struct{}{start: {}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.node == end {
			return current.path
		}
		if len(current.path)-1 >= maxDepth {
			continue
		}

		for _, neighbor := range adjacency[current.node] {
			if _, seen := visited[neighbor]; seen {
				continue
			}
			visited[neighbor] = struct{}{}

			path := make([]string, 0, len(current.path)+1)
			path = append(path, current.path...)
			path = append(path, neighbor)
			queue = append(queue, item{node: neighbor, path: path})
		}
	}

	return nil
}
