package graph

import (
	"context"

	"github.com/smallnest/spice/errs"
	"github.com/smallnest/spice/message"
)

// Branch is one candidate route of a decision node.
type Branch struct {
	// Name labels the branch for observability.
	Name string

	// Target is the node the branch routes to.
	Target string

	// Predicate decides whether the branch matches; nil never matches.
	Predicate func(msg *message.Message) bool

	// otherwise marks the sentinel always-true branch.
	otherwise bool
}

// DecisionNode picks the first matching branch in declared order and
// records the choice in the message data; it has no side effects.
// Downstream edges match on the recorded keys via their conditions.
type DecisionNode struct {
	id       string
	branches []Branch
}

// NewDecisionNode creates an empty decision node.
func NewDecisionNode(id string) *DecisionNode {
	return &DecisionNode{id: id}
}

// When appends a predicate branch and returns the node for chaining.
func (n *DecisionNode) When(name, target string, predicate func(msg *message.Message) bool) *DecisionNode {
	n.branches = append(n.branches, Branch{Name: name, Target: target, Predicate: predicate})
	return n
}

// Otherwise appends the always-true fallback branch. At most one is
// allowed; Graph.Validate enforces this at build time.
func (n *DecisionNode) Otherwise(target string) *DecisionNode {
	n.branches = append(n.branches, Branch{
		Name:      "otherwise",
		Target:    target,
		Predicate: func(*message.Message) bool { return true },
		otherwise: true,
	})
	return n
}

// ID implements Node.
func (n *DecisionNode) ID() string { return n.id }

// Branches returns the declared branches.
func (n *DecisionNode) Branches() []Branch { return n.branches }

func (n *DecisionNode) otherwiseCount() int {
	count := 0
	for _, b := range n.branches {
		if b.otherwise {
			count++
		}
	}
	return count
}

// Run implements Node. Predicate panics are mapped to ExecutionError.
func (n *DecisionNode) Run(_ context.Context, msg *message.Message) (*message.Message, error) {
	for _, branch := range n.branches {
		if branch.Predicate == nil {
			continue
		}
		matched, err := n.evaluate(branch, msg)
		if err != nil {
			return nil, err
		}
		if matched {
			return msg.WithDataMerged(map[string]any{
				message.KeySelectedBranch: branch.Target,
				message.KeyBranchName:     branch.Name,
				message.KeyDecisionNodeID: n.id,
			}), nil
		}
	}
	return nil, errs.Routing("no branch matched in decision node " + n.id).
		WithContextValue("nodeId", n.id)
}

func (n *DecisionNode) evaluate(branch Branch, msg *message.Message) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = errs.Execution("Decision branch evaluation failed", msg.GraphID(), n.id, nil).
				WithContextValue("branch", branch.Name).
				WithContextValue("panic", r)
		}
	}()
	return branch.Predicate(msg), nil
}

// BranchCondition returns an edge condition matching messages the
// decision node routed to target.
func BranchCondition(target string) func(msg *message.Message) bool {
	return func(msg *message.Message) bool {
		return msg.DataString(message.KeySelectedBranch) == target
	}
}
