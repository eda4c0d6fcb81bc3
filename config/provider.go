package config

// Static serves a fixed profile.
type Static struct {
	P Profile
}

// Profile returns a copy of the profile after validating it.
func (s Static) Profile() (*Profile, error) {
	p := s.P
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// File reads the profile from the named file on every call.
type File string

func (f File) Profile() (*Profile, error) {
	return LoadProfile(string(f))
}
