package chat

import "github.com/samber/lo"

// CanSee reports whether viewer may read m. Status and public messages are
// visible to everyone; private messages only to their author and recipient.
func CanSee(viewer string, m Message) bool {
	return m.Type.Public() || m.From == viewer || m.To == viewer
}

// VisibleTo returns, in log order, the messages viewer may read.
// When limit > 0 only the last limit entries of that sequence are returned.
func VisibleTo(viewer string, msgs []Message, limit int) []Message {
	visible := lo.Filter(msgs, func(m Message, _ int) bool {
		return CanSee(viewer, m)
	})
	if limit > 0 && len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}
	return visible
}
