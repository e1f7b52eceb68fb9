package insights

// Layout constants: columns per depth, rows per leaf.
const (
	layoutColumnWidth = 260.0
	layoutRowHeight   = 70.0
)

// layoutTree assigns left-to-right coordinates: x from depth, y from the
// leaf row index for leaves and the midpoint of the children for internal
// nodes, then the whole tree is centered vertically around zero.
func layoutTree(tree *Tree) {
	children := map[string][]int{}
	indexByID := map[string]int{}
	for i := range tree.Nodes {
		indexByID[tree.Nodes[i].ID] = i
	}
	isChild := map[string]bool{}
	for _, e := range tree.Edges {
		children[e.From] = append(children[e.From], indexByID[e.To])
		isChild[e.To] = true
	}

	var roots []int
	for i := range tree.Nodes {
		if !isChild[tree.Nodes[i].ID] {
			roots = append(roots, i)
		}
	}

	nextRow := 0.0
	var place func(idx int)
	place = func(idx int) {
		n := &tree.Nodes[idx]
		n.X = float64(n.Depth) * layoutColumnWidth

		kids := children[n.ID]
		if len(kids) == 0 {
			n.Y = nextRow * layoutRowHeight
			nextRow++
			return
		}
		for _, k := range kids {
			place(k)
		}
		first := tree.Nodes[kids[0]].Y
		last := tree.Nodes[kids[len(kids)-1]].Y
		n.Y = (first + last) / 2
	}
	for _, r := range roots {
		place(r)
	}

	if nextRow > 0 {
		offset := (nextRow - 1) * layoutRowHeight / 2
		for i := range tree.Nodes {
			tree.Nodes[i].Y -= offset
		}
	}
}
