// Package netgraph builds a transaction network from customers and their
// counterparties and answers structural questions about it: degree,
// centrality, connected components and shortest paths between entities.
package netgraph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/napsa-zm/erm-platform/internal/aml"
)

var ErrUnknownNode = errors.New("node not in graph")

// NodeKind distinguishes graph vertices.
type NodeKind string

const (
	NodeCustomer     NodeKind = "customer"
	NodeCounterparty NodeKind = "counterparty"
)

// Node is one vertex of the transaction network.
type Node struct {
	Key       string   `json:"key"`
	Kind      NodeKind `json:"kind"`
	Label     string   `json:"label"`
	RiskScore float64  `json:"risk_score"`
}

// Edge summarizes the money flow between two nodes.
type Edge struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	TxnCount    int     `json:"txn_count"`
	TotalAmount float64 `json:"total_amount"`
}

// Centrality bundles per-node structural scores.
type Centrality struct {
	Degree      float64 `json:"degree"`
	Betweenness float64 `json:"betweenness"`
	Closeness   float64 `json:"closeness"`
}

// CustomerKey is the graph key for a customer profile.
func CustomerKey(id uuid.UUID) string { return "customer:" + id.String() }

func counterpartyKey(name string) string { return "counterparty:" + name }

type edgeInfo struct {
	count  int
	amount float64
}

// Analyzer holds an immutable snapshot of the network. Rebuild replaces
// the whole graph; reads are safe concurrently with each other.
type Analyzer struct {
	mu     sync.RWMutex
	g      *simple.WeightedUndirectedGraph
	nextID int64
	byKey  map[string]int64
	nodes  map[int64]Node
	edges  map[[2]int64]*edgeInfo
}

// NewAnalyzer creates an empty analyzer.
func NewAnalyzer() *Analyzer {
	a := &Analyzer{}
	a.reset()
	return a
}

func (a *Analyzer) reset() {
	a.g = simple.NewWeightedUndirectedGraph(0, 0)
	a.nextID = 0
	a.byKey = make(map[string]int64)
	a.nodes = make(map[int64]Node)
	a.edges = make(map[[2]int64]*edgeInfo)
}

// Rebuild replaces the graph from a customer and transaction snapshot.
// Customers link to their counterparties; edge weight is hop count 1 so
// shortest paths count intermediaries, with amounts kept alongside.
func (a *Analyzer) Rebuild(customers []aml.CustomerProfile, txns []aml.Transaction) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()

	names := make(map[uuid.UUID]aml.CustomerProfile, len(customers))
	for _, c := range customers {
		names[c.ID] = c
	}

	for _, t := range txns {
		if t.Counterparty == "" {
			continue
		}
		c, ok := names[t.CustomerID]
		if !ok {
			continue
		}
		from := a.ensureNode(Node{
			Key: CustomerKey(c.ID), Kind: NodeCustomer,
			Label: c.FullName, RiskScore: c.RiskScore,
		})
		to := a.ensureNode(Node{
			Key: counterpartyKey(t.Counterparty), Kind: NodeCounterparty,
			Label: t.Counterparty,
		})
		a.addFlow(from, to, t.Amount.InexactFloat64())
	}
}

func (a *Analyzer) ensureNode(n Node) int64 {
	if id, ok := a.byKey[n.Key]; ok {
		return id
	}
	id := a.nextID
	a.nextID++
	a.byKey[n.Key] = id
	a.nodes[id] = n
	a.g.AddNode(simple.Node(id))
	return id
}

func (a *Analyzer) addFlow(from, to int64, amount float64) {
	if from == to {
		return
	}
	key := [2]int64{from, to}
	if from > to {
		key = [2]int64{to, from}
	}
	info, ok := a.edges[key]
	if !ok {
		info = &edgeInfo{}
		a.edges[key] = info
		a.g.SetWeightedEdge(simple.WeightedEdge{
			F: simple.Node(from), T: simple.Node(to), W: 1,
		})
	}
	info.count++
	info.amount += amount
}

// Size reports node and edge counts.
func (a *Analyzer) Size() (nodes, edges int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.nodes), len(a.edges)
}

// Degree returns the number of direct neighbors of a node.
func (a *Analyzer) Degree(key string) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.byKey[key]
	if !ok {
		return 0, fmt.Errorf("%s: %w", key, ErrUnknownNode)
	}
	return a.g.From(id).Len(), nil
}

// CentralityScores computes degree, betweenness and closeness centrality
// for every node.
func (a *Analyzer) CentralityScores() map[string]Centrality {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]Centrality, len(a.nodes))
	n := len(a.nodes)
	if n == 0 {
		return out
	}

	betweenness := network.Betweenness(a.g)
	allShortest := path.DijkstraAllPaths(a.g)
	closeness := network.Closeness(a.g, allShortest)

	for id, node := range a.nodes {
		degree := 0.0
		if n > 1 {
			degree = float64(a.g.From(id).Len()) / float64(n-1)
		}
		out[node.Key] = Centrality{
			Degree:      degree,
			Betweenness: betweenness[id],
			Closeness:   closeness[id],
		}
	}
	return out
}

// Components returns connected components, largest first, as node keys.
func (a *Analyzer) Components() [][]string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	comps := topo.ConnectedComponents(a.g)
	out := make([][]string, 0, len(comps))
	for _, comp := range comps {
		keys := make([]string, 0, len(comp))
		for _, gn := range comp {
			keys = append(keys, a.nodes[gn.ID()].Key)
		}
		sort.Strings(keys)
		out = append(out, keys)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i][0] < out[j][0]
	})
	return out
}

// ShortestPath returns the node keys on a shortest path between two
// entities, inclusive, or ErrUnknownNode / nil when unreachable.
func (a *Analyzer) ShortestPath(fromKey, toKey string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	from, ok := a.byKey[fromKey]
	if !ok {
		return nil, fmt.Errorf("%s: %w", fromKey, ErrUnknownNode)
	}
	to, ok := a.byKey[toKey]
	if !ok {
		return nil, fmt.Errorf("%s: %w", toKey, ErrUnknownNode)
	}

	shortest := path.DijkstraFrom(a.g.Node(from), a.g)
	nodes, _ := shortest.To(to)
	if len(nodes) == 0 {
		return nil, nil
	}
	keys := make([]string, len(nodes))
	for i, gn := range nodes {
		keys[i] = a.nodes[gn.ID()].Key
	}
	return keys, nil
}

// Neighborhood is a customer's subgraph out to the given number of hops.
type Neighborhood struct {
	Center string `json:"center"`
	Nodes  []Node `json:"nodes"`
	Edges  []Edge `json:"edges"`
}

// CustomerNetwork extracts the neighborhood around one customer.
func (a *Analyzer) CustomerNetwork(customerID uuid.UUID, hops int) (*Neighborhood, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	key := CustomerKey(customerID)
	center, ok := a.byKey[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrUnknownNode)
	}
	if hops <= 0 {
		hops = 2
	}

	visited := map[int64]bool{center: true}
	frontier := []int64{center}
	for d := 0; d < hops; d++ {
		var next []int64
		for _, id := range frontier {
			it := a.g.From(id)
			for it.Next() {
				nb := it.Node().ID()
				if !visited[nb] {
					visited[nb] = true
					next = append(next, nb)
				}
			}
		}
		frontier = next
	}

	nb := &Neighborhood{Center: key}
	for id := range visited {
		nb.Nodes = append(nb.Nodes, a.nodes[id])
	}
	sort.Slice(nb.Nodes, func(i, j int) bool { return nb.Nodes[i].Key < nb.Nodes[j].Key })

	for pair, info := range a.edges {
		if visited[pair[0]] && visited[pair[1]] {
			nb.Edges = append(nb.Edges, Edge{
				From:        a.nodes[pair[0]].Key,
				To:          a.nodes[pair[1]].Key,
				TxnCount:    info.count,
				TotalAmount: info.amount,
			})
		}
	}
	sort.Slice(nb.Edges, func(i, j int) bool {
		if nb.Edges[i].From != nb.Edges[j].From {
			return nb.Edges[i].From < nb.Edges[j].From
		}
		return nb.Edges[i].To < nb.Edges[j].To
	})
	return nb, nil
}
