package model

import "time"

// Sentinel values substituted when a location cannot be resolved.
const (
	UnknownPlace    = "Unknown"
	DefaultTimezone = "UTC"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Location is the coarse geographic position of a network address.
type Location struct {
	Country   string  `json:"country"`
	Region    string  `json:"region"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
}

// UnknownLocation returns the sentinel location.
func UnknownLocation() Location {
	return Location{
		Country:  UnknownPlace,
		Region:   UnknownPlace,
		City:     UnknownPlace,
		Timezone: DefaultTimezone,
	}
}

// IsUnknown reports whether l carries no resolved country.
func (l Location) IsUnknown() bool {
	return l.Country == "" || l.Country == UnknownPlace
}

// Normalize fills empty fields with their sentinel values.
func (l Location) Normalize() Location {
	if l.Country == "" {
		l.Country = UnknownPlace
	}
	if l.Region == "" {
		l.Region = UnknownPlace
	}
	if l.City == "" {
		l.City = UnknownPlace
	}
	if l.Timezone == "" {
		l.Timezone = DefaultTimezone
	}
	return l
}

// NodeRecord is the public view of one pod, rebuilt on every aggregation pass.
type NodeRecord struct {
	ID                  string    `json:"id"`
	ExternalID          string    `json:"externalId"`
	Name                string    `json:"name"`
	Status              string    `json:"status"`
	Uptime              float64   `json:"uptime"`
	UptimeSeconds       uint64    `json:"uptimeSeconds"`
	Latency             float64   `json:"latency"`
	StorageUsed         uint64    `json:"storageUsed,string"`
	StorageCapacity     uint64    `json:"storageCapacity,string"`
	StorageUsagePercent float64   `json:"storageUsagePercent"`
	Location            string    `json:"location"`
	Region              string    `json:"region"`
	City                string    `json:"city"`
	Lat                 float64   `json:"lat"`
	Lng                 float64   `json:"lng"`
	Timezone            string    `json:"timezone"`
	Performance         float64   `json:"performance"`
	RiskScore           float64   `json:"riskScore"`
	XDNScore            float64   `json:"xdnScore"`
	Stake               float64   `json:"stake"`
	Rewards             float64   `json:"rewards"`
	CPUPercent          float64   `json:"cpuPercent"`
	Version             string    `json:"version"`
	IsPublic            bool      `json:"isPublic"`
	RPCPort             int       `json:"rpcPort"`
	Address             string    `json:"address"`
	Seed                string    `json:"seed"`
	LastSeen            time.Time `json:"lastSeen"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Active reports whether the record's derived status is active.
func (r NodeRecord) Active() bool { return r.Status == StatusActive }

// RankedNode is a leaderboard row.
type RankedNode struct {
	Rank int `json:"rank"`
	NodeRecord
}

// HistoryPoint is one persisted observation of a pod.
type HistoryPoint struct {
	PodID       string    `json:"pnodeId"`
	PassID      string    `json:"passId"`
	Timestamp   time.Time `json:"timestamp"`
	Uptime      float64   `json:"uptime"`
	Latency     float64   `json:"latency"`
	StorageUsed uint64    `json:"storageUsed,string"`
	Rewards     float64   `json:"rewards"`
	XDNScore    float64   `json:"xdnScore"`
}

// NetworkStats summarises a directory snapshot.
type NetworkStats struct {
	TotalNodes     int       `json:"totalNodes"`
	ActiveNodes    int       `json:"activeNodes"`
	InactiveNodes  int       `json:"inactiveNodes"`
	PublicNodes    int       `json:"publicNodes"`
	PrivateNodes   int       `json:"privateNodes"`
	NetworkHealth  float64   `json:"networkHealth"`
	TotalRewards   float64   `json:"totalRewards"`
	TotalStake     float64   `json:"totalStake"`
	AverageLatency float64   `json:"averageLatency"`
	AverageUptime  float64   `json:"averageUptime"`
	ValidationRate float64   `json:"validationRate"`
	TotalStorage   uint64    `json:"totalStorage,string"`
	UsedStorage    uint64    `json:"usedStorage,string"`
	FetchTime      float64   `json:"fetchTime"`
	Timestamp      time.Time `json:"timestamp"`
}

// HeatmapEntry is the per-country rollup used by the geographic view.
type HeatmapEntry struct {
	Country   string  `json:"country"`
	Count     int     `json:"count"`
	AvgUptime float64 `json:"avgUptime"`
	Flag      string  `json:"flag"`
	Color     string  `json:"color"`
}
