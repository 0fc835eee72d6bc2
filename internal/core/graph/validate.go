package graph

// Structural validation walks. All run on arena indices; see Load for the
// order in which they are applied.

// checkReachability rejects graphs with nodes the start node cannot reach.
func (g *Graph) checkReachability() error {
	reached := g.reachableFromStart()
	for i, n := range g.nodes {
		if !reached[i] {
			return configErr(n.Name, ErrOrphanNode)
		}
	}
	return nil
}

// checkCycleBounds rejects graphs containing a cycle with no edge declaring a
// finite max traversal count. Edges carrying a cap are removed; any cycle
// that survives is by construction unbounded. Detection is DFS with
// tri-color marking.
func (g *Graph) checkCycleBounds() error {
	const (
		white = 0 // unvisited
		gray  = 1 // visiting
		black = 2 // visited
	)
	color := make([]int, len(g.nodes))

	adj := make([][]int, len(g.nodes))
	for src, edgeIdxs := range g.outgoing {
		for _, ei := range edgeIdxs {
			if g.edges[ei].MaxTraversals > 0 {
				continue // bounded edge breaks the cycle
			}
			adj[src] = append(adj[src], g.nodeIndex[g.edges[ei].Target])
		}
	}

	var offending string
	var dfs func(int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range adj[u] {
			if color[v] == gray {
				offending = g.nodes[v].Name
				return true // back-edge
			}
			if color[v] == white && dfs(v) {
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range g.nodes {
		if color[i] == white && dfs(i) {
			return configErr(offending, ErrUnboundedCycle)
		}
	}
	return nil
}

// checkTerminalReachable requires at least one node with no outgoing edges
// reachable from the start node, so every run has somewhere to finish.
func (g *Graph) checkTerminalReachable() error {
	reached := g.reachableFromStart()
	for i := range g.nodes {
		if reached[i] && len(g.outgoing[i]) == 0 {
			return nil
		}
	}
	return configErr(g.name, ErrNoTerminalNode)
}

// checkInputSatisfiability requires every declared input to be producible by
// some ancestor's outputs or present in run-level initial state.
func (g *Graph) checkInputSatisfiability(initialKeys []string) error {
	initial := make(map[string]bool, len(initialKeys))
	for _, k := range initialKeys {
		initial[k] = true
	}

	for i, n := range g.nodes {
		if len(n.Inputs) == 0 {
			continue
		}
		available := make(map[string]bool, len(initial))
		for k := range initial {
			available[k] = true
		}
		for _, anc := range g.ancestors(i) {
			for _, out := range g.nodes[anc].Outputs {
				available[out] = true
			}
		}
		for _, in := range n.Inputs {
			if !available[in] {
				return configErr(n.Name, ErrUnsatisfiableInput)
			}
		}
	}
	return nil
}

// reachableFromStart marks every node reachable from the start node.
func (g *Graph) reachableFromStart() []bool {
	reached := make([]bool, len(g.nodes))
	stack := []int{g.start}
	reached[g.start] = true
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, ei := range g.outgoing[u] {
			v := g.nodeIndex[g.edges[ei].Target]
			if !reached[v] {
				reached[v] = true
				stack = append(stack, v)
			}
		}
	}
	return reached
}

// ancestors returns the indices of every node with a path to the given node.
func (g *Graph) ancestors(node int) []int {
	seen := make([]bool, len(g.nodes))
	var out []int
	stack := []int{node}
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, ei := range g.incoming[u] {
			v := g.nodeIndex[g.edges[ei].Source]
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
				stack = append(stack, v)
			}
		}
	}
	return out
}
