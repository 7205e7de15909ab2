package archive

// ToSnapshot is exported for testing snapshot construction
var ToSnapshot = toSnapshot
