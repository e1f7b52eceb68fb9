// Package render rasterizes an insight tree into a PNG for clients that
// want a static mind-map image instead of drawing the JSON themselves.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"os"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/yungbote/vidscribe-backend/internal/insights"
)

const (
	nodeWidth    = 220.0
	nodeHeight   = 48.0
	cornerRadius = 10.0
	margin       = 60.0
	fontSize     = 13.0
	maxLabelLen  = 34
)

// One fill per depth, root first.
var depthFills = []color.NRGBA{
	{R: 0x2D, G: 0x3E, B: 0x50, A: 0xFF},
	{R: 0x34, G: 0x6B, B: 0x8C, A: 0xFF},
	{R: 0x3E, G: 0x92, B: 0x7A, A: 0xFF},
	{R: 0x8C, G: 0x6B, B: 0x34, A: 0xFF},
	{R: 0x6B, G: 0x4F, B: 0x8C, A: 0xFF},
}

type Renderer struct {
	face font.Face
}

// New loads the label font: INSIGHT_FONT names a TTF on disk, otherwise
// the embedded Go Regular face is used.
func New() (*Renderer, error) {
	data := goregular.TTF
	if path := strings.TrimSpace(os.Getenv("INSIGHT_FONT")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read insight font: %w", err)
		}
		data = raw
	}
	parsed, err := truetype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse insight font: %w", err)
	}
	face := truetype.NewFace(parsed, &truetype.Options{
		Size:    fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	return &Renderer{face: face}, nil
}

// PNG draws the tree with the layout coordinates already present on the
// nodes: rounded boxes colored by depth, curved parent-child edges.
func (r *Renderer) PNG(tree *insights.Tree) ([]byte, error) {
	if tree == nil || len(tree.Nodes) == 0 {
		return nil, fmt.Errorf("empty tree")
	}

	minX, minY := tree.Nodes[0].X, tree.Nodes[0].Y
	maxX, maxY := minX, minY
	for _, n := range tree.Nodes[1:] {
		if n.X < minX {
			minX = n.X
		}
		if n.X > maxX {
			maxX = n.X
		}
		if n.Y < minY {
			minY = n.Y
		}
		if n.Y > maxY {
			maxY = n.Y
		}
	}

	width := int(maxX-minX+nodeWidth) + int(2*margin)
	height := int(maxY-minY+nodeHeight) + int(2*margin)

	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()
	dc.SetFontFace(r.face)

	// Canvas position of a node's top-left corner.
	place := func(n *insights.Node) (float64, float64) {
		return n.X - minX + margin, n.Y - minY + margin
	}
	byID := map[string]*insights.Node{}
	for i := range tree.Nodes {
		byID[tree.Nodes[i].ID] = &tree.Nodes[i]
	}

	// Edges first so the boxes cover the endpoints.
	dc.SetColor(color.NRGBA{R: 0xB0, G: 0xB8, B: 0xC0, A: 0xFF})
	dc.SetLineWidth(1.5)
	for _, e := range tree.Edges {
		from, ok1 := byID[e.From]
		to, ok2 := byID[e.To]
		if !ok1 || !ok2 {
			continue
		}
		fx, fy := place(from)
		tx, ty := place(to)
		x0, y0 := fx+nodeWidth, fy+nodeHeight/2
		x1, y1 := tx, ty+nodeHeight/2
		mid := (x0 + x1) / 2
		dc.MoveTo(x0, y0)
		dc.CubicTo(mid, y0, mid, y1, x1, y1)
		dc.Stroke()
	}

	for i := range tree.Nodes {
		n := &tree.Nodes[i]
		x, y := place(n)

		fill := depthFills[len(depthFills)-1]
		if n.Depth < len(depthFills) {
			fill = depthFills[n.Depth]
		}
		dc.SetColor(fill)
		dc.DrawRoundedRectangle(x, y, nodeWidth, nodeHeight, cornerRadius)
		dc.Fill()

		label := truncate(n.Label, maxLabelLen)
		dc.SetColor(color.White)
		dc.DrawStringAnchored(label, x+nodeWidth/2, y+nodeHeight/2, 0.5, 0.35)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
