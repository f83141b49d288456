package domain

// Store: склад с ограниченной вместимостью.
type Store struct {
	StoreID      int    `json:"storeId" yaml:"storeId"`
	Location     string `json:"location" yaml:"location"`
	Capacity     int    `json:"capacity" yaml:"capacity"`
	UsedCapacity int    `json:"usedCapacity" yaml:"usedCapacity"`
}

func (s Store) Key() int { return s.StoreID }
