package directory

import "prism/pkg"

const recentTaskLimit = 5

// Summarize computes the clinician overview.  Discharged patients are left
// out of the total; the recent tasks are the first open ones in directory
// order.
func Summarize(repo Repository) pkg.Dashboard {
	d := pkg.Dashboard{RecentTasks: []pkg.DashboardTask{}}
	for _, p := range repo.List() {
		switch p.Status {
		case pkg.PatientAtRisk:
			d.AtRisk++
		case pkg.PatientOnTrack:
			d.OnTrack++
		}
		if p.Status != pkg.PatientDischarged {
			d.TotalPatients++
		}

		data, ok := repo.Get(p.ID)
		if !ok {
			continue
		}
		for _, t := range data.Tasks {
			if t.Completed {
				d.CompletedTasks++
				continue
			}
			d.OpenTasks++
			if len(d.RecentTasks) < recentTaskLimit {
				d.RecentTasks = append(d.RecentTasks, pkg.DashboardTask{Task: t, PatientName: p.Name})
			}
		}
	}
	return d
}
