package host

import "time"

// VersionStatus 描述一个 worker 版本。
type VersionStatus struct {
	Version      string    `json:"version"`
	State        State     `json:"state"`
	StaticCache  string    `json:"static_cache"`
	DynamicCache string    `json:"dynamic_cache"`
	InstalledAt  time.Time `json:"installed_at,omitempty"`
	ActivatedAt  time.Time `json:"activated_at,omitempty"`
}

// Status 是注册表的诊断快照。
type Status struct {
	Installing *VersionStatus `json:"installing,omitempty"`
	Waiting    *VersionStatus `json:"waiting,omitempty"`
	Active     *VersionStatus `json:"active,omitempty"`
	Clients    int            `json:"clients"`
	Controlled int            `json:"controlled"`
}

// Status 返回当前状态快照。
func (r *Registration) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		Installing: describe(r.installing),
		Waiting:    describe(r.waiting),
		Active:     describe(r.active),
		Clients:    len(r.clients),
	}
	for e := r.recent.Front(); e != nil; e = e.Next() {
		if c := e.Value.(*client); c.controller != nil && c.controller == r.active {
			st.Controlled++
		}
	}
	return st
}

func describe(v *version) *VersionStatus {
	if v == nil {
		return nil
	}
	st := &VersionStatus{
		Version:     v.name,
		State:       v.state,
		InstalledAt: v.installedAt,
		ActivatedAt: v.activatedAt,
	}
	if v.manager != nil {
		names := v.manager.Names()
		st.StaticCache = names.Static
		st.DynamicCache = names.Dynamic
	}
	return st
}
