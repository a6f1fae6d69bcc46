package registry

import "github.com/litp/platform/pkg/domain"

// dateTimePattern is the reference-time layout every dataset's
// embedded filename timestamp parses under: yyyyMMddHHmmss.
const dateTimePattern = "20060102150405"

// Default returns the DatasetDefinition set this deployment registers:
// the worked PERSONS scenario plus the CTS/SAM pair the cleanse
// analysis's missing-SAM rule cross-checks.
func Default() []domain.DatasetDefinition {
	return []domain.DatasetDefinition{
		{
			Name:               "PERSONS",
			FilePrefix:         "LITP_TEST_PERSONS_{0}",
			DatePattern:        dateTimePattern,
			PrimaryKeyColumns:  []string{"PersonId"},
			ChangeTypeColumn:   "CHANGETYPE",
			AccumulatorColumns: []string{"FirstName", "LastName", "Email"},
		},
		{
			Name:               "CTS",
			FilePrefix:         "LITP_CTS_{0}",
			DatePattern:        dateTimePattern,
			PrimaryKeyColumns:  []string{"Lid"},
			ChangeTypeColumn:   "CHANGETYPE",
			AccumulatorColumns: []string{"Cph", "Species"},
		},
		{
			Name:               "SAM",
			FilePrefix:         "LITP_SAM_{0}",
			DatePattern:        dateTimePattern,
			PrimaryKeyColumns:  []string{"Lid"},
			ChangeTypeColumn:   "CHANGETYPE",
			AccumulatorColumns: []string{"Herd", "Party", "Email"},
		},
	}
}
