// Package config loads and validates the FactuLink listener configuration.
//
// Two formats are accepted and produce the same Config:
//
// # Dotenv
//
// The historical deployment format, one file per installation:
//
//	DATA_PATH=/srv/accounting
//	EXERCISE=2025
//	BUSINESS_CODE=OFICIT:OFI,NORTE:NOR,SUR:SUR
//	BUSINESS_SERIALS=OFICIT:A,NORTE:B,SUR:C
//	MAIN_BUSINESS=OFICIT
//
// Each business source resolves to DATA_PATH/<code><EXERCISE><extension>.
// Environment variables override keys of the file.
//
// # YAML
//
//	data_path: ${DATA_PATH}
//	exercise: "2025"
//	main_business: OFICIT
//	sources:
//	  - name: NORTE
//	    code: NOR
//	  - name: SUR
//	    path: /mnt/sur/SUR2025.db
//
// ${VAR_NAME} references are substituted from the environment before
// parsing.
//
// Validate must pass before any listener is built: it checks that the data
// path and every file-backed source exist.
package config
