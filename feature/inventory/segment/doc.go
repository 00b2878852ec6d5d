// Package segment shards a product's stock into independently versioned
// rows so concurrent deductions contend on disjoint data. It covers
// segment selection, the cached active pointer, and merge-based
// redistribution when the segmentation fragments.
package segment
