package cfg

// computeDominance runs the standard iterative dominator algorithm
// (Cooper, Harvey, Kennedy — "A Simple, Fast Dominance Algorithm") over g
// in reverse postorder from Entry.
func computeDominance(g *Graph) {
	order := reversePostorder(g.Entry)
	index := make(map[*Node]int, len(order))
	for i, n := range order {
		index[n] = i
	}

	g.Entry.Dominator = g.Entry
	changed := true
	for changed {
		changed = false
		for _, n := range order {
			if n == g.Entry {
				continue
			}
			var newIdom *Node
			for _, p := range n.Predecessors {
				if p.Dominator == nil {
					continue
				}
				if newIdom == nil {
					newIdom = p
					continue
				}
				newIdom = intersect(newIdom, p, index)
			}
			if newIdom != nil && n.Dominator != newIdom {
				n.Dominator = newIdom
				changed = true
			}
		}
	}
}

func intersect(a, b *Node, index map[*Node]int) *Node {
	for a != b {
		for index[a] > index[b] {
			a = a.Dominator
		}
		for index[b] > index[a] {
			b = b.Dominator
		}
	}
	return a
}

func reversePostorder(entry *Node) []*Node {
	visited := map[*Node]bool{}
	var post []*Node
	var visit func(n *Node)
	visit = func(n *Node) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, s := range n.Successors {
			visit(s)
		}
		post = append(post, n)
	}
	visit(entry)
	// reverse
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// computeDominanceFrontier computes the dominance frontier for every node
// using the standard "join points" algorithm over Dominator links.
func computeDominanceFrontier(g *Graph) {
	for _, n := range g.Nodes {
		if len(n.Predecessors) < 2 {
			continue
		}
		for _, p := range n.Predecessors {
			runner := p
			for runner != n.Dominator && runner != nil {
				runner.DominanceFrontier[n] = true
				if runner.Dominator == runner {
					break
				}
				runner = runner.Dominator
			}
		}
	}
}
