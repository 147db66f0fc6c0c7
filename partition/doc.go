// Package partition divides an ordered key alphabet into contiguous,
// half-open ranges. A partition is the unit of schedulable background work:
// lease managers acquire and release whole partitions.
//
// Partitions are derived data. For a given alphabet and maximum count the
// output is always identical, so every instance computes the same set
// without coordination.
package partition
