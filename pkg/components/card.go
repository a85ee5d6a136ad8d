// Package components provides the reusable UI elements the performance core
// pools and renders progressively. RecipeCard is the expensive, short-lived
// element the pooling layer exists for: cards are created by a factory,
// populated from a Recipe, handed to the view, and recycled when the visible
// set changes.
package components

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Widget is the contract a pooled UI element satisfies. Reset clears all
// accumulated state so the element can be repopulated; Cleanup releases held
// resources, including detaching from any parent container.
type Widget interface {
	// Render produces the element's display string at the given width.
	Render(width int) string

	// Reset clears accumulated state, leaving the widget as if newly built.
	Reset()

	// Cleanup releases resources and detaches the widget from its parent.
	Cleanup()
}

// Recipe is the domain payload a card displays. The performance core never
// looks inside it; it exists so cards (and tests) have something real to
// render.
type Recipe struct {
	Title    string
	Tags     []string
	Servings int
	PrepMin  int
}

// Container is a minimal parent for widgets: an ordered set the view walks
// when composing a frame. Attach and Detach keep the membership consistent
// so a recycled card never lingers in a stale frame.
type Container struct {
	mu      sync.Mutex
	widgets []Widget
}

// NewContainer creates an empty Container.
func NewContainer() *Container {
	return &Container{}
}

// Attach appends w to the container if not already present.
func (c *Container) Attach(w Widget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.widgets {
		if existing == w {
			return
		}
	}
	c.widgets = append(c.widgets, w)
}

// Detach removes w from the container. Unknown widgets are ignored.
func (c *Container) Detach(w Widget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.widgets {
		if existing == w {
			c.widgets = append(c.widgets[:i], c.widgets[i+1:]...)
			return
		}
	}
}

// Len returns the number of attached widgets.
func (c *Container) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.widgets)
}

// Widgets returns a snapshot of the attached widgets in attach order.
func (c *Container) Widgets() []Widget {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Widget, len(c.widgets))
	copy(out, c.widgets)
	return out
}

// CardStyle configures RecipeCard rendering.
type CardStyle struct {
	BorderColor string // hex color for the card border
	TitleColor  string // hex color for the title line
	TagColor    string // hex color for the tag line
	Padding     int    // horizontal padding inside the border
}

// DefaultCardStyle returns the standard card appearance.
func DefaultCardStyle() CardStyle {
	return CardStyle{
		BorderColor: "#7C3AED",
		TitleColor:  "#E5E7EB",
		TagColor:    "#6B7280",
		Padding:     1,
	}
}

// RecipeCard is a pooled widget displaying one recipe. Cards track how many
// times they have been populated, which the pool tests use to verify reuse.
type RecipeCard struct {
	style  CardStyle
	recipe Recipe
	filled bool
	parent *Container

	// Populations counts SetRecipe calls since the last Reset.
	Populations int
}

// NewRecipeCard creates an empty card with the given style.
func NewRecipeCard(style CardStyle) *RecipeCard {
	return &RecipeCard{style: style}
}

// SetRecipe populates the card with domain data.
func (c *RecipeCard) SetRecipe(r Recipe) {
	c.recipe = r
	c.filled = true
	c.Populations++
}

// Recipe returns the currently displayed recipe and whether the card is
// populated.
func (c *RecipeCard) Recipe() (Recipe, bool) {
	return c.recipe, c.filled
}

// AttachTo detaches the card from any current parent and attaches it to p.
func (c *RecipeCard) AttachTo(p *Container) {
	if c.parent != nil && c.parent != p {
		c.parent.Detach(c)
	}
	c.parent = p
	if p != nil {
		p.Attach(c)
	}
}

// Parent returns the card's current container, or nil.
func (c *RecipeCard) Parent() *Container {
	return c.parent
}

// Render draws the card at the given width. An unpopulated card renders an
// empty placeholder frame.
func (c *RecipeCard) Render(width int) string {
	if width < 10 {
		width = 10
	}

	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(c.style.BorderColor)).
		Padding(0, c.style.Padding).
		Width(width - 2)

	if !c.filled {
		return border.Render(lipgloss.NewStyle().
			Foreground(lipgloss.Color(c.style.TagColor)).
			Render("(empty)"))
	}

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(c.style.TitleColor)).
		Render(c.recipe.Title)

	meta := fmt.Sprintf("serves %d · %d min", c.recipe.Servings, c.recipe.PrepMin)
	info := lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.style.TagColor)).
		Render(meta)

	lines := []string{title, info}
	if len(c.recipe.Tags) > 0 {
		tags := lipgloss.NewStyle().
			Foreground(lipgloss.Color(c.style.TagColor)).
			Italic(true).
			Render(strings.Join(c.recipe.Tags, " · "))
		lines = append(lines, tags)
	}

	return border.Render(strings.Join(lines, "\n"))
}

// Reset clears the card's recipe data and population counter. The parent
// attachment is left alone; Reset prepares the card for repopulation, not
// for disposal.
func (c *RecipeCard) Reset() {
	c.recipe = Recipe{}
	c.filled = false
	c.Populations = 0
}

// Cleanup detaches the card from its parent and clears its state. After
// Cleanup the card holds no references into domain data or the view tree.
func (c *RecipeCard) Cleanup() {
	if c.parent != nil {
		c.parent.Detach(c)
		c.parent = nil
	}
	c.Reset()
}
