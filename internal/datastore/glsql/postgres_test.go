package glsql

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/rename-project/internal/config"
)

func TestDSN(t *testing.T) {
	testCases := []struct {
		desc string
		in   config.DB
		out  string
	}{
		{desc: "empty", in: config.DB{}, out: "binary_parameters=yes"},
		{
			desc: "basic",
			in:   config.DB{Host: "1.2.3.4", Port: 2345, User: "rename-project-user", Password: "secret", DBName: "rename_project_production", SSLMode: "require", SSLCert: "/path/to/cert", SSLKey: "/path/to/key", SSLRootCert: "/path/to/root-cert"},
			out:  `port=2345 host=1.2.3.4 user=rename-project-user password=secret dbname=rename_project_production sslmode=require sslcert=/path/to/cert sslkey=/path/to/key sslrootcert=/path/to/root-cert binary_parameters=yes`,
		},
		{
			desc: "with spaces and quotes",
			in:   config.DB{Password: "secret foo'bar"},
			out:  `password=secret\ foo\'bar binary_parameters=yes`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			require.Equal(t, tc.out, DSN(tc.in))
		})
	}
}

func TestInt64Provider(t *testing.T) {
	var provider Int64Provider

	dst1 := provider.To()
	require.Equal(t, []interface{}{new(int64)}, dst1, "must be a single value holder")
	val1 := dst1[0].(*int64)
	*val1 = int64(100)

	dst2 := provider.To()
	val2 := dst2[0].(*int64)
	*val2 = int64(200)

	require.Equal(t, []int64{100, 200}, provider.Values())
}

func TestStringProvider(t *testing.T) {
	var provider StringProvider
	require.Nil(t, provider.Values())

	dst := provider.To()
	*(dst[0].(*string)) = "proj-a"

	require.Equal(t, []string{"proj-a"}, provider.Values())
}
