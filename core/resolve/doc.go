// Package resolve computes the typed input map a node executes with, from
// the outputs accumulated by its upstream producers and the node's own
// authored defaults. Resolution is pure: it never touches storage or the
// network, and equal inputs always produce equal results. Missing required
// slots are not resolver errors; the executor raises them when it inspects
// the resolved map.
package resolve
