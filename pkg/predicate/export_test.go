package predicate

var Normalize = normalize
