package evaluator

// Allocation estimates, in bytes, charged to the sandbox tracker. They
// approximate the Go heap footprint of each construct closely enough for
// memory limits to bound runaway scripts.
const (
	CostValue     = 16
	CostList      = 40
	CostRecord    = 64
	CostEntry     = 32
	CostClosure   = 96
	CostString    = 16
	CostCoroutine = 2048
)

// maxHostDepth bounds call nesting when the sandbox sets no depth limit, so
// runaway recursion surfaces as a script error instead of exhausting the
// Go stack.
const maxHostDepth = 10_000

func listCost(n int) int64 {
	return CostList + int64(n)*CostValue
}

func recordCost(n int) int64 {
	return CostRecord + int64(n)*CostEntry
}

func stringCost(s string) int64 {
	return CostString + int64(len(s))
}
